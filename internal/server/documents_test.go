package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/docqa-go/internal/loader"
	"github.com/54b3r/docqa-go/internal/registry"
	"github.com/54b3r/docqa-go/internal/session"
)

var samplePDF = []byte("%PDF-1.4 sample")

// uploadedFiles lists the files stored for ns.
func uploadedFiles(t *testing.T, env *testEnv, ns string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(env.uploads, ns))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read uploads: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func expectState(t *testing.T, env *testEnv, ns string, want registry.State) {
	t.Helper()
	if _, got := env.registry.Get(ns); got != want {
		t.Errorf("state = %v, want %v", got, want)
	}
}

func TestUploadThenQuery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.client(t)

	w := c.upload("report.pdf", samplePDF)
	if w.Code != http.StatusOK {
		t.Fatalf("upload: want 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["message"] != "PDF processed successfully" || body["filename"] != "report.pdf" {
		t.Errorf("unexpected upload body: %v", body)
	}
	ns := c.namespace()
	expectState(t, env, ns, registry.StateReady)
	if got := uploadedFiles(t, env, ns); len(got) != 1 || got[0] != "report.pdf" {
		t.Errorf("uploaded files = %v, want [report.pdf]", got)
	}

	w = c.query("  What is the capital of Testland?  ")
	if w.Code != http.StatusOK {
		t.Fatalf("query: want 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp queryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp.Answer, "Exampleville") {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.PDFName != "report.pdf" {
		t.Errorf("pdf_name = %q, want report.pdf", resp.PDFName)
	}
	if len(resp.Sources) != 1 || !strings.Contains(resp.Sources[0], "Exampleville") {
		t.Errorf("sources = %v", resp.Sources)
	}
}

func TestUpload_ReplacesPreviousDocument(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.client(t)

	for _, name := range []string{"first.pdf", "second.pdf"} {
		if w := c.upload(name, samplePDF); w.Code != http.StatusOK {
			t.Fatalf("upload %s: got %d: %s", name, w.Code, w.Body.String())
		}
	}
	if got := uploadedFiles(t, env, c.namespace()); len(got) != 1 || got[0] != "second.pdf" {
		t.Errorf("uploaded files = %v, want only second.pdf", got)
	}
	w := c.query("anything?")
	if got := decode(t, w)["pdf_name"]; got != "second.pdf" {
		t.Errorf("pdf_name = %v, want second.pdf", got)
	}
}

func TestUpload_Rejections(t *testing.T) {
	t.Parallel()

	multipartBody := func(field, filename string) (*bytes.Buffer, string) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, _ := mw.CreateFormFile(field, filename)
		_, _ = fw.Write(samplePDF)
		_ = mw.Close()
		return &buf, mw.FormDataContentType()
	}

	tests := []struct {
		name    string
		request func() *http.Request
		wantMsg string
	}{
		{
			name: "wrong field name",
			request: func() *http.Request {
				body, ct := multipartBody("document", "a.pdf")
				req := httptest.NewRequest(http.MethodPost, "/upload", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			wantMsg: msgNoFilePart,
		},
		{
			name: "not multipart",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("x"))
			},
			wantMsg: msgNoFilePart,
		},
		{
			name: "empty file name",
			request: func() *http.Request {
				var buf bytes.Buffer
				mw := multipart.NewWriter(&buf)
				fw, _ := mw.CreateFormFile("file", "")
				_, _ = fw.Write(nil)
				_ = mw.Close()
				req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
				req.Header.Set("Content-Type", mw.FormDataContentType())
				return req
			},
			wantMsg: msgNoSelectedFile,
		},
		{
			name: "text file",
			request: func() *http.Request {
				body, ct := multipartBody("file", "notes.txt")
				req := httptest.NewRequest(http.MethodPost, "/upload", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			wantMsg: msgInvalidFileType,
		},
		{
			name: "upper-case extension",
			request: func() *http.Request {
				body, ct := multipartBody("file", "UPPER.PDF")
				req := httptest.NewRequest(http.MethodPost, "/upload", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			wantMsg: msgInvalidFileType,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			c := env.client(t)

			// A rejected upload must not disturb the active document.
			if w := c.upload("keep.pdf", samplePDF); w.Code != http.StatusOK {
				t.Fatalf("seed upload: %d", w.Code)
			}

			expectError(t, c.do(tc.request()), http.StatusBadRequest, tc.wantMsg)

			ns := c.namespace()
			expectState(t, env, ns, registry.StateReady)
			if got := uploadedFiles(t, env, ns); len(got) != 1 || got[0] != "keep.pdf" {
				t.Errorf("uploaded files = %v, want [keep.pdf]", got)
			}
			if env.builder.calls != 1 {
				t.Errorf("builder calls = %d, want 1", env.builder.calls)
			}
		})
	}
}

func TestUpload_TooLarge(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *Config) { c.MaxUploadBytes = 8 })
	c := env.client(t)

	expectError(t, c.upload("big.pdf", bytes.Repeat([]byte("x"), 64)), http.StatusBadRequest, msgFileTooLarge)

	ns := c.namespace()
	expectState(t, env, ns, registry.StateEmpty)
	if got := uploadedFiles(t, env, ns); len(got) != 0 {
		t.Errorf("uploaded files = %v, want none", got)
	}
	if env.builder.calls != 0 {
		t.Errorf("builder should not run for an oversized file")
	}
}

func TestUpload_BuildFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		panicMsg   string
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "unreadable pdf",
			err:        fmt.Errorf("%w: no pages", loader.ErrLoad),
			wantStatus: http.StatusBadRequest,
			wantMsg:    msgLoadFailed,
		},
		{
			name:       "embedding failure",
			err:        errors.New("embedder unreachable"),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    msgServerErrorPref + "embedder unreachable",
		},
		{
			name:       "panic",
			panicMsg:   "index exploded",
			wantStatus: http.StatusInternalServerError,
			wantMsg:    msgServerErrorPref + "index exploded",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			c := env.client(t)

			if w := c.upload("old.pdf", samplePDF); w.Code != http.StatusOK {
				t.Fatalf("seed upload: %d", w.Code)
			}
			env.builder.mu.Lock()
			env.builder.err, env.builder.panicMsg = tc.err, tc.panicMsg
			env.builder.mu.Unlock()

			expectError(t, c.upload("new.pdf", samplePDF), tc.wantStatus, tc.wantMsg)

			// The old document was cleared before the attempt and the
			// failed one must not linger.
			ns := c.namespace()
			expectState(t, env, ns, registry.StateEmpty)
			if got := uploadedFiles(t, env, ns); len(got) != 0 {
				t.Errorf("uploaded files = %v, want none", got)
			}
			expectError(t, c.query("still there?"), http.StatusBadRequest, msgUploadFirst)
		})
	}
}

func TestQuery_Rejections(t *testing.T) {
	t.Parallel()

	t.Run("before upload", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		expectError(t, env.client(t).query("hello?"), http.StatusBadRequest, msgUploadFirst)
	})

	t.Run("missing question", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		c := env.client(t)
		if w := c.upload("a.pdf", samplePDF); w.Code != http.StatusOK {
			t.Fatalf("upload: %d", w.Code)
		}
		for _, body := range []string{`{}`, `{"question":"   "}`, `not json`} {
			req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
			expectError(t, c.do(req), http.StatusBadRequest, msgNoQuestion)
		}
	})

	t.Run("answer failure", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		env.builder.answerer = &fakeAnswerer{err: errors.New("model offline")}
		c := env.client(t)
		if w := c.upload("a.pdf", samplePDF); w.Code != http.StatusOK {
			t.Fatalf("upload: %d", w.Code)
		}
		expectError(t, c.query("why?"), http.StatusInternalServerError, msgServerErrorPref+"model offline")
		// A failed answer does not unload the document.
		expectState(t, env, c.namespace(), registry.StateReady)
	})
}

func TestQuery_WhileIndexing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.client(t)
	ns := c.namespace()

	env.builder.started = make(chan struct{}, 1)
	env.builder.gate = make(chan struct{})

	uploader := *c
	done := make(chan int)
	go func() {
		done <- uploader.upload("slow.pdf", samplePDF).Code
	}()

	<-env.builder.started
	expectState(t, env, ns, registry.StateIndexing)
	expectError(t, c.query("ready yet?"), http.StatusConflict, msgIndexing)

	close(env.builder.gate)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("upload: want 200, got %d", code)
	}
	if w := c.query("ready now?"); w.Code != http.StatusOK {
		t.Errorf("query after indexing: want 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestQuery_CleanupWaitsForInflightAnswer(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.client(t)

	slow := &fakeAnswerer{
		answer:  "Exampleville.",
		started: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	env.builder.answerer = slow
	if w := c.upload("a.pdf", samplePDF); w.Code != http.StatusOK {
		t.Fatalf("upload: %d", w.Code)
	}
	ns := c.namespace()

	asker, cleaner := *c, *c
	queried := make(chan *httptest.ResponseRecorder, 1)
	go func() { queried <- asker.query("q?") }()
	<-slow.started

	cleaned := make(chan int, 1)
	go func() { cleaned <- cleaner.cleanup().Code }()

	select {
	case code := <-cleaned:
		t.Fatalf("cleanup finished with %d while an answer was still being generated", code)
	case <-time.After(50 * time.Millisecond):
	}

	close(slow.gate)
	w := <-queried
	if w.Code != http.StatusOK {
		t.Fatalf("in-flight query: want 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["pdf_name"]; got != "a.pdf" {
		t.Errorf("pdf_name = %v, want a.pdf", got)
	}
	if code := <-cleaned; code != http.StatusOK {
		t.Fatalf("cleanup: want 200, got %d", code)
	}
	expectState(t, env, ns, registry.StateEmpty)
	expectError(t, c.query("q?"), http.StatusBadRequest, msgUploadFirst)
}

func TestCleanup(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.client(t)

	if w := c.upload("a.pdf", samplePDF); w.Code != http.StatusOK {
		t.Fatalf("upload: %d", w.Code)
	}
	if w := c.query("q?"); w.Code != http.StatusOK {
		t.Fatalf("query: %d", w.Code)
	}
	ns := c.namespace()

	// Cleanup is idempotent.
	for i := range 2 {
		w := c.cleanup()
		if w.Code != http.StatusOK {
			t.Fatalf("cleanup %d: want 200, got %d: %s", i, w.Code, w.Body.String())
		}
		var resp cleanupResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Message != "Cleanup successful" {
			t.Errorf("message = %q", resp.Message)
		}
		if len(resp.Steps) != 4 {
			t.Errorf("steps = %+v, want 4", resp.Steps)
		}
	}

	expectState(t, env, ns, registry.StateEmpty)
	if got := uploadedFiles(t, env, ns); len(got) != 0 {
		t.Errorf("uploaded files = %v, want none", got)
	}
	msgs, err := env.history.Recent(t.Context(), ns, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("history should be cleared, got %d messages", len(msgs))
	}
	expectError(t, c.query("q?"), http.StatusBadRequest, msgUploadFirst)
}

func TestSessionsAreIsolated(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	alice, bob := env.client(t), env.client(t)

	if w := alice.upload("alice.pdf", samplePDF); w.Code != http.StatusOK {
		t.Fatalf("alice upload: %d", w.Code)
	}
	if alice.namespace() == bob.namespace() {
		t.Fatal("clients share a namespace")
	}
	expectError(t, bob.query("what does alice have?"), http.StatusBadRequest, msgUploadFirst)

	if w := bob.upload("bob.pdf", samplePDF); w.Code != http.StatusOK {
		t.Fatalf("bob upload: %d", w.Code)
	}
	if got := decode(t, alice.query("q?"))["pdf_name"]; got != "alice.pdf" {
		t.Errorf("alice pdf_name = %v", got)
	}

	if w := bob.cleanup(); w.Code != http.StatusOK {
		t.Fatalf("bob cleanup: %d", w.Code)
	}
	expectState(t, env, alice.namespace(), registry.StateReady)
}

// Clients that never send the cookie back still see the one active
// document in the default shared mode.
func TestSharedMode_CookielessClients(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	sessions, err := session.NewManager(session.Config{UploadsRoot: env.uploads})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	env.srv.deps.Sessions = sessions

	a, b := env.client(t), env.client(t)
	if w := a.upload("team.pdf", samplePDF); w.Code != http.StatusOK {
		t.Fatalf("upload: %d", w.Code)
	}
	w := b.query("q?")
	if w.Code != http.StatusOK {
		t.Fatalf("query from a new client: %d %s", w.Code, w.Body)
	}
	if got := decode(t, w)["pdf_name"]; got != "team.pdf" {
		t.Errorf("shared pdf_name = %v", got)
	}
	expectState(t, env, session.SharedNamespace, registry.StateReady)
}

func TestHistory(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.client(t)

	w := c.do(httptest.NewRequest(http.MethodGet, "/history", nil))
	var resp historyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != "empty" || len(resp.Messages) != 0 {
		t.Errorf("initial history = %+v", resp)
	}

	if w := c.upload("a.pdf", samplePDF); w.Code != http.StatusOK {
		t.Fatalf("upload: %d", w.Code)
	}
	if w := c.query("Where?"); w.Code != http.StatusOK {
		t.Fatalf("query: %d", w.Code)
	}

	w = c.do(httptest.NewRequest(http.MethodGet, "/history", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("history: want 200, got %d", w.Code)
	}
	resp = historyResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != "ready" || resp.PDFName != "a.pdf" {
		t.Errorf("history state = %q pdf = %q", resp.State, resp.PDFName)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("messages = %+v, want 2", resp.Messages)
	}
	if resp.Messages[0].Role != "user" || resp.Messages[0].Content != "Where?" {
		t.Errorf("first message = %+v", resp.Messages[0])
	}
	if resp.Messages[1].Role != "assistant" {
		t.Errorf("second message = %+v", resp.Messages[1])
	}
}

func TestIndexPage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "<html") {
		t.Error("expected an HTML page")
	}
	var cookie *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == session.CookieName {
			cookie = ck
		}
	}
	if cookie == nil || !cookie.HttpOnly {
		t.Errorf("expected an HttpOnly session cookie, got %+v", cookie)
	}

	w = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	if w.Code != http.StatusOK {
		t.Errorf("static asset: want 200, got %d", w.Code)
	}
}

func TestExpireSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.client(t)

	if w := c.upload("a.pdf", samplePDF); w.Code != http.StatusOK {
		t.Fatalf("upload: %d", w.Code)
	}
	ns := c.namespace()
	env.registry.OnExpired(env.srv.ExpireSession)

	env.registry.Expire(ns)

	expectState(t, env, ns, registry.StateEmpty)
	if got := uploadedFiles(t, env, ns); len(got) != 0 {
		t.Errorf("uploaded files = %v, want none", got)
	}
}

func TestExpireSession_SkipsNamespaceUsedAgain(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := env.client(t)
	ns := c.namespace()

	// The expiry hook fires, then an upload touches the namespace and
	// takes the operation lock before the hook gets it.
	hookStarted := make(chan struct{})
	hookDone := make(chan struct{})
	env.registry.OnExpired(func(ns string) {
		close(hookStarted)
		env.srv.ExpireSession(ns)
		close(hookDone)
	})

	env.registry.Touch(ns)
	unlock := env.registry.Lock(ns)
	go env.registry.Expire(ns)
	<-hookStarted
	env.registry.Touch(ns)
	env.registry.Set(ns, &registry.Entry{Pipeline: &fakeAnswerer{answer: "a"}, DocumentName: "fresh.pdf"})
	unlock()
	<-hookDone

	expectState(t, env, ns, registry.StateReady)
	if w := c.query("still there?"); w.Code != http.StatusOK {
		t.Errorf("query after skipped expiry: want 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDocumentEndpoints_RequireAPIKey(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *Config) { c.APIKey = "s3cret" })
	c := env.client(t)

	if w := c.upload("a.pdf", samplePDF); w.Code != http.StatusUnauthorized {
		t.Errorf("upload without key: want 401, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/cleanup", nil)
	req.Header.Set("X-API-Key", "s3cret")
	if w := c.do(req); w.Code != http.StatusOK {
		t.Errorf("cleanup with key: want 200, got %d", w.Code)
	}
}
