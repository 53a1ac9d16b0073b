package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/lignum/dpp/pkg/core"
)

// Error codes of the response envelope.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeInvalidPatch      = "INVALID_PATCH"
	CodeInvalidDocument   = "INVALID_DOCUMENT"
	CodeValidation        = "VALIDATION_FAILED"
	CodeBadRequest        = "BAD_REQUEST"
	CodeUnsupportedMedia  = "UNSUPPORTED_MEDIA_TYPE"
	CodeInternal          = "INTERNAL"
	CodeReloadFailed      = "RELOAD_FAILED"
	contentTypeJSON       = "application/json"
	contentTypeJSONLD     = "application/ld+json"
	contentTypeMergePatch = "application/merge-patch+json"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// statusFor classifies an error returned by the store, registry or resolver.
func statusFor(err error) (int, string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, core.ErrInvalidPatch):
		return http.StatusBadRequest, CodeInvalidPatch
	case errors.Is(err, core.ErrInvalidDocument):
		return http.StatusBadRequest, CodeInvalidDocument
	case errors.As(err, &verrs):
		return http.StatusBadRequest, CodeValidation
	}
	return http.StatusInternalServerError, CodeInternal
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Code: code, Message: err.Error()}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]any, len(verrs))
		for _, fe := range verrs {
			fields[fe.Namespace()] = fe.Tag()
		}
		resp.Message = "request validation failed"
		resp.Meta = map[string]any{"fields": fields}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		resp.Message = http.StatusText(status)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, contentTypeJSON, resp)
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, contentTypeJSON, ErrorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, contentType string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Default().Error("failed to encode response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
