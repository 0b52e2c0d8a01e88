package server

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/54b3r/docqa-go/internal/logging"
)

//go:embed static
var staticFiles embed.FS

// staticHandler serves the page assets under /static/.
var staticHandler = http.FileServerFS(staticFiles)

// handleIndex handles GET / by serving the embedded front-end page. It also
// issues the session cookie so the first upload already has one.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Sessions.Resolve(w, r); err != nil {
		logging.FromContext(r.Context()).Error("session: resolve failed", slog.Any("error", err))
	}
	page, err := fs.ReadFile(staticFiles, "static/index.html")
	if err != nil {
		writeJSONError(w, msgServerErrorPref+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(page)
}
