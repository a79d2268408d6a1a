package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/indexer"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/models"
)

// multipartOverhead is allowed on top of the file limit for form boundaries and headers.
const multipartOverhead = 1 << 20

type askRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type chatRequest struct {
	DocID    string `json:"doc_id"`
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	const op = "server.Upload"
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.respondErr(w, r, err)
			return
		}
		s.respondErr(w, r, apperr.InvalidArgument(op, "expected a multipart form with a file field: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondErr(w, r, apperr.InvalidArgument(op, "missing file field"))
		return
	}
	defer file.Close()
	if header.Size > s.maxUpload {
		s.respondErr(w, r, &http.MaxBytesError{Limit: s.maxUpload})
		return
	}
	content, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		s.respondErr(w, r, apperr.InvalidArgument(op, "cannot read upload: %v", err))
		return
	}
	if int64(len(content)) > s.maxUpload {
		s.respondErr(w, r, &http.MaxBytesError{Limit: s.maxUpload})
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	up := indexer.Upload{Filename: header.Filename, Content: content}
	s.logger.Debug("upload request",
		zap.String("filename", header.Filename),
		zap.Int("bytes", len(content)),
		zap.Bool("async", async))

	var res *indexer.Result
	if async {
		res, err = s.indexer.Submit(r.Context(), up)
	} else {
		res, err = s.indexer.Ingest(r.Context(), up)
	}
	if err != nil {
		resp := newErrorResponse(err)
		if res != nil {
			resp.DocID = res.DocumentID
		}
		s.logError(r, err)
		s.respondJSON(w, resp.Status, resp)
		return
	}

	status := http.StatusCreated
	switch {
	case res.Deduplicated:
		status = http.StatusOK
	case res.Status == models.StatusProcessing:
		status = http.StatusAccepted
	}
	s.respondJSON(w, status, res)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs := s.docs.List(r.Context())
	views := make([]models.DocumentView, len(docs))
	for i, d := range docs {
		views[i] = d.View()
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": views, "total": len(views)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.docs.Describe(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc.View())
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.docs.Delete(r.Context(), id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"doc_id": id, "status": "deleted"})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.answer(w, r, chi.URLParam(r, "id"), req.Question, req.TopK)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.DocID == "" {
		s.respondErr(w, r, apperr.InvalidArgument("server.Chat", "doc_id is required"))
		return
	}
	s.answer(w, r, req.DocID, req.Question, req.TopK)
}

func (s *Server) answer(w http.ResponseWriter, r *http.Request, id, question string, topK int) {
	ans, err := s.engine.Ask(r.Context(), id, question, topK)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if ans.Sources == nil {
		ans.Sources = []models.Citation{}
	}
	s.respondJSON(w, http.StatusOK, ans)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "version": s.version}
	stats, err := s.docs.Stats()
	if err != nil {
		s.logger.Warn("health: store stats failed", zap.Error(err))
		resp["status"] = "degraded"
	}
	resp["store"] = stats
	s.respondJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body into v, responding with invalid_argument on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondErr(w, r, apperr.InvalidArgument("server.decode", "invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	resp := newErrorResponse(err)
	if e, ok := apperr.As(err); ok && e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(e.RetryAfter.Round(time.Second)/time.Second)))
	}
	s.logError(r, err)
	s.respondJSON(w, resp.Status, resp)
}

func (s *Server) logError(r *http.Request, err error) {
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("kind", string(apperr.KindOf(err))),
		zap.Error(err),
	}
	if statusFor(err) >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
		return
	}
	s.logger.Debug("request rejected", fields...)
}
