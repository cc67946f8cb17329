package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"convertd/internal/artifact"
	"convertd/internal/intake"
	"convertd/internal/logging"
	"convertd/internal/services"
	"convertd/internal/settings"
	"convertd/internal/status"
)

// multipartSlack covers form fields and part headers around the file.
const multipartSlack = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "normal"})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartSlack)
	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "expected a multipart/form-data body")
		return
	}

	up, err := readUpload(mr, s.maxUpload, s.deps.Gate.ScreenFilename)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	accepted, err := s.deps.Gate.Validate(up.filename, up.content, up.target)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	bundle, err := s.deps.Resolver.Resolve(up.target, up.options)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	jobID, err := s.deps.Dispatcher.Enqueue(r.Context(), accepted.Filename, up.content, up.target, bundle)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, ConvertResponse{JobID: jobID, Message: messageConversionStarting})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	st, err := s.deps.Status.Status(r.Context(), jobID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse(st))
}

func statusResponse(st status.JobStatus) StatusResponse {
	resp := StatusResponse{Status: string(st.Kind)}
	switch st.Kind {
	case status.Completed:
		if st.Artifact != nil {
			resp.FileID = st.Artifact.FileID
			resp.Filename = st.Artifact.Filename
			resp.OriginalName = st.Artifact.OriginalName
		}
	case status.Failed:
		resp.Error = st.Reason
	case status.Processing:
		resp.Meta = &StatusMeta{Progress: st.Percent, Message: st.Message}
	}
	return resp
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	rec, found, err := s.deps.Artifacts.Find(r.Context(), jobID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, messageResultMissing)
		return
	}

	body, rec, err := s.deps.Artifacts.Open(r.Context(), rec.StoredName)
	if errors.Is(err, artifact.ErrNotFound) {
		// Reaped between lookup and open.
		s.writeError(w, http.StatusNotFound, messageResultMissing)
		return
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	defer body.Close()

	contentType := mime.TypeByExtension(filepath.Ext(rec.StoredName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.StoredName}))
	if rec.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		logging.WithContext(r.Context(), s.logger).Warn("result download interrupted",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err),
		)
	}
}

// writeFailure maps err onto a status code. Validation messages go back to the
// client verbatim; anything else is logged and summarized.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	code := services.HTTPStatus(err)
	var (
		intakeErr   *intake.ValidationError
		settingsErr *settings.ValidationError
		formErr     *formError
	)
	switch {
	case errors.As(err, &intakeErr):
		s.writeError(w, code, intakeErr.Message)
	case errors.As(err, &settingsErr), errors.As(err, &formErr):
		s.writeError(w, code, err.Error())
	case errors.Is(err, errFileTooLarge):
		s.writeError(w, code, "upload exceeds the maximum size")
	case code == http.StatusServiceUnavailable:
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "broker unavailable", "broker_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check broker connectivity"),
		)
		s.writeError(w, code, "conversion service unavailable, try again later")
	default:
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "request failed", "request_failed",
			logging.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, ErrorResponse{Error: message})
}
