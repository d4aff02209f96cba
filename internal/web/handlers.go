package web

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/ofximport/internal/core"
	"github.com/go-chi/chi/v5"
)

// multipartOverhead is the allowance for multipart headers and boundaries on
// top of the configured maximum file size.
const multipartOverhead = 1 << 20

// maxNameField bounds the optional "name" form field.
const maxNameField = 1024

var (
	errMissingFile     = errors.New("no file provided")
	errInvalidForm     = errors.New("invalid multipart form")
	errMissingFileName = errors.New("missing name query parameter")
)

var msgBadForm = core.UserMessage{
	Message: "The upload could not be read",
	Action:  "Send the statement as multipart form field \"file\", or as the raw request body with ?name=",
	Code:    "REQ001",
}

// importResponse is the body of a finished import.
type importResponse struct {
	*core.ImportResult
	Phase core.Phase `json:"phase,omitempty"`
}

// handleImport streams an OFX file into the import service.
//
// Two request shapes are accepted: multipart/form-data with the document in
// the "file" field, or the raw document as the body with the file name in the
// "name" query parameter. A "name" query parameter or form field sent before
// the file overrides the uploaded file name, which is the deduplication key.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+multipartOverhead)

	name, body, err := importSource(r)
	if err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		s.respondErrorMessage(w, r, err, status, msgBadForm)
		return
	}
	defer body.Close()

	result, err := s.service.HandleImport(r.Context(), name, body)
	if err != nil {
		if result != nil && core.PhaseOf(err) == core.PhaseLeaseLost {
			writeJSON(w, importResponse{ImportResult: result, Phase: core.PhaseLeaseLost})
			return
		}
		s.respondImportError(w, r, err)
		return
	}

	writeJSON(w, importResponse{ImportResult: result})
}

// importSource returns the file name and document reader for an import request.
func importSource(r *http.Request) (string, io.ReadCloser, error) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if name == "" {
			return "", nil, errMissingFileName
		}
		return name, r.Body, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, errors.Join(errInvalidForm, err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil, errMissingFile
		}
		if err != nil {
			return "", nil, errors.Join(errInvalidForm, err)
		}

		switch part.FormName() {
		case "name":
			if name == "" {
				v, err := io.ReadAll(io.LimitReader(part, maxNameField))
				if err != nil {
					return "", nil, errors.Join(errInvalidForm, err)
				}
				name = strings.TrimSpace(string(v))
			}
			part.Close()
		case "file":
			if name == "" {
				name = part.FileName()
			}
			return name, part, nil
		default:
			part.Close()
		}
	}
}

// handleImportStatus returns the stored record for a file name.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	fileName := chi.URLParam(r, "fileName")

	status, err := s.service.GetImportStatus(r.Context(), fileName)
	if err != nil {
		if core.IsNotFound(err) {
			s.respondErrorMessage(w, r, err, http.StatusNotFound, core.UserMessage{
				Message: "No import was recorded for this file",
				Code:    "IMP404",
			})
			return
		}
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, status)
}

// handleLimiterStatus returns the current state of the import limiter.
// Used for monitoring and to check if the system can accept more imports.
func (s *Server) handleLimiterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.LimiterStatus())
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealth runs the dependency probes with a short timeout.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			s.logger.Warn("health check failed", "check", c.Name, "error", err)
			resp.Checks[c.Name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "ok"
	}

	writeJSONStatus(w, status, resp)
}
