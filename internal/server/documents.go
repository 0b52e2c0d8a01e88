package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/docqa-go/internal/audit"
	"github.com/54b3r/docqa-go/internal/cleanup"
	"github.com/54b3r/docqa-go/internal/loader"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/registry"
	"github.com/54b3r/docqa-go/internal/session"
	"github.com/54b3r/docqa-go/internal/store"
	"github.com/54b3r/docqa-go/internal/uploads"
)

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

// Client-visible error messages.
const (
	msgNoFilePart      = "No file part"
	msgNoSelectedFile  = "No selected file"
	msgInvalidFileType = "Invalid file type"
	msgFileTooLarge    = "File too large"
	msgLoadFailed      = "Error loading PDF"
	msgSaveFailed      = "File save failed"
	msgUploadFirst     = "Please upload a PDF first"
	msgIndexing        = "Document is still being indexed"
	msgNoQuestion      = "No question provided"
	msgServerErrorPref = "Server error: "
)

// resolveSession resolves the caller's session and returns it with a
// request logger tagged with its redacted token. It writes a 500 and
// returns false on failure.
func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request) (session.Session, *slog.Logger, bool) {
	log := logging.FromContext(r.Context())
	sess, err := s.deps.Sessions.Resolve(w, r)
	if err != nil {
		log.Error("session: resolve failed", slog.Any("error", err))
		writeJSONError(w, msgServerErrorPref+err.Error(), http.StatusInternalServerError)
		return session.Session{}, nil, false
	}
	log = log.With(slog.String("session", audit.RedactToken(sess.Token)))
	return sess, log, true
}

// handleUpload handles POST /upload. The multipart field "file" must carry a
// PDF. The caller's namespace is reset, then the file is saved, indexed and
// installed as the namespace's active pipeline. Any failure after the reset
// leaves the namespace empty.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, log, ok := s.resolveSession(w, r)
	if !ok {
		s.metrics.uploadsTotal.WithLabelValues(outcomeError).Inc()
		return
	}
	ns := sess.Namespace
	ctx := logging.WithLogger(r.Context(), log)
	s.deps.Registry.Touch(ns)

	reject := func(msg string, status int) {
		outcome := outcomeRejected
		if status >= http.StatusInternalServerError {
			outcome = outcomeError
		}
		s.metrics.uploadsTotal.WithLabelValues(outcome).Inc()
		writeJSONError(w, msg, status)
	}

	if s.cfg.MaxUploadBytes > 0 {
		// Leave room for multipart framing around the file itself.
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	}

	// Validation happens before the reset so a bad request never discards
	// the current document.
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			log.Warn("upload: request body too large", slog.Int64("limit", tooLarge.Limit))
			reject(msgFileTooLarge, http.StatusBadRequest)
		case errors.Is(err, http.ErrMissingFile) && hasEmptyFilePart(r):
			log.Warn("upload: no selected file")
			reject(msgNoSelectedFile, http.StatusBadRequest)
		default:
			log.Warn("upload: no file part", slog.Any("error", err))
			reject(msgNoFilePart, http.StatusBadRequest)
		}
		return
	}
	defer file.Close()

	name := uploads.CleanName(header.Filename)
	if name == "" {
		log.Warn("upload: no selected file")
		reject(msgNoSelectedFile, http.StatusBadRequest)
		return
	}
	if !uploads.Allowed(name) {
		log.Warn("upload: invalid file type", slog.String("filename", name))
		reject(msgInvalidFileType, http.StatusBadRequest)
		return
	}

	unlock := s.deps.Registry.Lock(ns)
	defer unlock()

	if err := s.reset(ctx, ns).Err(); err != nil {
		log.Error("upload: cleanup before upload failed", slog.Any("error", err))
		reject(msgServerErrorPref+err.Error(), http.StatusInternalServerError)
		return
	}
	s.deps.Registry.MarkIndexing(ns)

	// Until the entry is installed, any exit (panics included) must leave
	// the namespace empty rather than stuck indexing or half-built.
	installed := false
	defer func() {
		if !installed {
			s.reset(ctx, ns)
		}
	}()

	path, err := s.deps.Uploads.Save(s.deps.Sessions.Dir(sess), file, name)
	if err != nil {
		log.Error("upload: save failed", slog.String("filename", name), slog.Any("error", err))
		switch {
		case errors.Is(err, uploads.ErrTooLarge):
			reject(msgFileTooLarge, http.StatusBadRequest)
		case errors.Is(err, uploads.ErrInvalidFileType):
			reject(msgInvalidFileType, http.StatusBadRequest)
		default:
			reject(msgSaveFailed, http.StatusInternalServerError)
		}
		return
	}

	start := time.Now()
	entry, err := s.deps.Builder.Build(ctx, ns, path)
	s.metrics.indexDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, loader.ErrLoad) {
			log.Warn("upload: could not load PDF", slog.String("filename", name), slog.Any("error", err))
			reject(msgLoadFailed, http.StatusBadRequest)
			return
		}
		log.Error("upload: indexing failed", slog.String("filename", name), slog.Any("error", err))
		reject(msgServerErrorPref+err.Error(), http.StatusInternalServerError)
		return
	}
	entry.DocumentName = name
	s.deps.Registry.Set(ns, entry)
	installed = true

	audit.LogSession(ctx, logging.FromContext(r.Context()), audit.ActionUpload, ns,
		slog.String("document", name),
		slog.Int("chunks", entry.Chunks),
	)
	s.metrics.uploadsTotal.WithLabelValues(outcomeOK).Inc()
	writeJSON(ctx, w, http.StatusOK, uploadResponse{
		Message:  "PDF processed successfully",
		Filename: name,
	})
}

// hasEmptyFilePart reports whether the form had a "file" part without a
// file name, which is what browsers send when no file was chosen.
func hasEmptyFilePart(r *http.Request) bool {
	if r.MultipartForm == nil {
		return false
	}
	_, ok := r.MultipartForm.Value["file"]
	return ok
}

// handleQuery handles POST /query with a JSON body {"question": "..."}. It
// answers from a snapshot of the namespace's active pipeline and never
// waits for an in-flight upload. A cleanup or replacing upload that starts
// meanwhile keeps the snapshot's index open until the answer is written.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	sess, log, ok := s.resolveSession(w, r)
	if !ok {
		s.metrics.queriesTotal.WithLabelValues(outcomeError).Inc()
		return
	}
	ns := sess.Namespace
	ctx := logging.WithLogger(r.Context(), log)
	s.deps.Registry.Touch(ns)

	reject := func(msg string, status int) {
		outcome := outcomeRejected
		if status >= http.StatusInternalServerError {
			outcome = outcomeError
		}
		s.metrics.queriesTotal.WithLabelValues(outcome).Inc()
		writeJSONError(w, msg, status)
	}

	entry, state, release := s.deps.Registry.Acquire(ns)
	defer release()
	switch state {
	case registry.StateIndexing:
		reject(msgIndexing, http.StatusConflict)
		return
	case registry.StateEmpty:
		reject(msgUploadFirst, http.StatusBadRequest)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("query: invalid request body", slog.Any("error", err))
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		reject(msgNoQuestion, http.StatusBadRequest)
		return
	}

	start := time.Now()
	res, err := entry.Pipeline.Answer(ctx, question)
	s.metrics.queryDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error("query: answer failed", slog.Any("error", err))
		reject(msgServerErrorPref+err.Error(), http.StatusInternalServerError)
		return
	}

	if s.deps.History != nil {
		for _, m := range []struct {
			role    store.Role
			content string
		}{{store.RoleUser, question}, {store.RoleAssistant, res.Answer}} {
			if err := s.deps.History.Append(ctx, ns, m.role, m.content); err != nil {
				log.Warn("query: failed to record history", slog.Any("error", err))
				break
			}
		}
	}

	sources := make([]string, 0, len(res.Sources))
	for _, d := range res.Sources {
		sources = append(sources, d.Content)
	}
	s.metrics.queriesTotal.WithLabelValues(outcomeOK).Inc()
	writeJSON(ctx, w, http.StatusOK, queryResponse{
		Answer:  res.Answer,
		PDFName: entry.DocumentName,
		Sources: sources,
	})
}

// handleCleanup handles POST /cleanup. It resets the caller's namespace and
// reports every step; only a failure to reset the upload directory fails
// the request.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	sess, log, ok := s.resolveSession(w, r)
	if !ok {
		return
	}
	ns := sess.Namespace
	ctx := logging.WithLogger(r.Context(), log)

	unlock := s.deps.Registry.Lock(ns)
	res := s.reset(ctx, ns)
	unlock()

	audit.LogSession(ctx, logging.FromContext(r.Context()), audit.ActionCleanup, ns, slog.Any("cleanup", res))
	if err := res.Err(); err != nil {
		log.Error("cleanup: failed", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	steps := make([]cleanupStep, 0, len(res.Steps))
	for _, st := range res.Steps {
		cs := cleanupStep{Name: st.Name, Outcome: string(st.Outcome)}
		if st.Err != nil {
			cs.Error = st.Err.Error()
		}
		steps = append(steps, cs)
	}
	writeJSON(ctx, w, http.StatusOK, cleanupResponse{Message: "Cleanup successful", Steps: steps})
}

// handleHistory handles GET /history, returning the session's recent
// questions and answers and the name of the active document.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, log, ok := s.resolveSession(w, r)
	if !ok {
		return
	}
	ns := sess.Namespace
	ctx := logging.WithLogger(r.Context(), log)
	s.deps.Registry.Touch(ns)

	entry, state := s.deps.Registry.Get(ns)
	resp := historyResponse{State: state.String(), Messages: []historyMessage{}}
	if entry != nil {
		resp.PDFName = entry.DocumentName
	}

	if s.deps.History != nil {
		msgs, err := s.deps.History.Recent(ctx, ns, s.cfg.HistoryLimit)
		if err != nil {
			log.Error("history: read failed", slog.Any("error", err))
			writeJSONError(w, msgServerErrorPref+err.Error(), http.StatusInternalServerError)
			return
		}
		for _, m := range msgs {
			resp.Messages = append(resp.Messages, historyMessage{
				Role:      string(m.Role),
				Content:   m.Content,
				CreatedAt: m.CreatedAt,
			})
		}
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

// reset runs a cleanup of ns and records its steps in the metrics. Callers
// must hold the namespace's operation lock.
func (s *Server) reset(ctx context.Context, ns string) cleanup.Result {
	res := s.deps.Cleanup.Reset(ctx, ns)
	for _, st := range res.Steps {
		s.metrics.cleanupStepsTotal.WithLabelValues(st.Name, string(st.Outcome)).Inc()
	}
	return res
}

// ExpireSession resets an idle namespace. It is registered as the
// registry's expiry hook. A namespace used again before the operation lock
// is acquired is left alone.
func (s *Server) ExpireSession(ns string) {
	ctx := logging.WithLogger(context.Background(), s.log)
	unlock := s.deps.Registry.Lock(ns)
	if !s.deps.Registry.Idle(ns) {
		unlock()
		s.log.Debug("session: expiry skipped, namespace in use again", slog.String("session", audit.RedactToken(ns)))
		return
	}
	res := s.reset(ctx, ns)
	unlock()
	audit.LogSession(ctx, s.log, audit.ActionExpire, ns, slog.Any("cleanup", res))
}
