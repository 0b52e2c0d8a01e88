package uploads

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"doc.pdf", true},
		{"DOC.PDF", false},
		{"report.Pdf", false},
		{".pdf", true},
		{"notes.txt", false},
		{"pdf", false},
		{"archive.pdf.zip", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := Allowed(tc.name); got != tc.want {
			t.Errorf("Allowed(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCleanName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"doc.pdf", "doc.pdf"},
		{"../../etc/passwd.pdf", "passwd.pdf"},
		{`C:\Users\me\doc.pdf`, "doc.pdf"},
		{"/abs/path/x.pdf", "x.pdf"},
		{"..", ""},
		{"", ""},
	}
	for _, tc := range tests {
		if got := CleanName(tc.in); got != tc.want {
			t.Errorf("CleanName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSave_WritesFile(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "ns", "nested")

	var s Store
	path, err := s.Save(dir, strings.NewReader("%PDF-1.4 body"), "../sample.pdf")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if path != filepath.Join(dir, "sample.pdf") {
		t.Errorf("path = %q", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(b) != "%PDF-1.4 body" {
		t.Errorf("content = %q", b)
	}
}

func TestSave_ReplacesExisting(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	var s Store
	if _, err := s.Save(dir, strings.NewReader("first version"), "a.pdf"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	path, err := s.Save(dir, strings.NewReader("v2"), "a.pdf")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "v2" {
		t.Errorf("content = %q, want v2", b)
	}
}

func TestSave_InvalidType(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "ns")

	var s Store
	_, err := s.Save(dir, strings.NewReader("x"), "notes.txt")
	if !errors.Is(err, ErrInvalidFileType) {
		t.Fatalf("err = %v, want ErrInvalidFileType", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("directory must not be created for a rejected file")
	}
}

func TestSave_StorageFailure(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	var s Store
	_, err := s.Save(filepath.Join(blocker, "ns"), strings.NewReader("x"), "a.pdf")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
}

func TestSave_TooLarge(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s := Store{MaxBytes: 4}
	_, err := s.Save(dir, strings.NewReader("12345"), "a.pdf")
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.pdf")); !os.IsNotExist(err) {
		t.Error("oversized upload must be removed")
	}
	if _, err := s.Save(dir, strings.NewReader("1234"), "a.pdf"); err != nil {
		t.Errorf("upload at the limit rejected: %v", err)
	}
}
