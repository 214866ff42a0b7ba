package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"interunit-loan-recon/pkg/errors"
	"interunit-loan-recon/pkg/logger"

	"github.com/go-playground/validator/v10"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Code       errors.ErrorCode     `json:"code"`
	Category   errors.ErrorCategory `json:"category,omitempty"`
	Message    string               `json:"message"`
	Suggestion string               `json:"suggestion,omitempty"`
	Fields     map[string]string    `json:"fields,omitempty"`
}

// statusFor maps an application error to an HTTP status.
func statusFor(err error) int {
	rerr, ok := errors.AsReconcilerError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch rerr.Code {
	case errors.CodeNotFound, errors.CodeFileNotFound:
		return http.StatusNotFound
	case errors.CodeInvalidStateTransition, errors.CodeDuplicateUID, errors.CodeDataInconsistent:
		return http.StatusConflict
	case errors.CodeLockUnavailable:
		return http.StatusLocked
	case errors.CodeStorageFailure:
		return http.StatusServiceUnavailable
	}
	switch rerr.Category {
	case errors.CategoryValidation, errors.CategoryParse, errors.CategoryFile:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError writes err as a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, map[string]errorBody{"error": {
			Code:     errors.CodeMissingField,
			Category: errors.CategoryValidation,
			Message:  "request validation failed",
			Fields:   fields,
		}})
		return
	}

	status := statusFor(err)
	body := errorBody{Code: errors.CodeUnexpectedError, Message: err.Error()}
	if rerr, ok := errors.AsReconcilerError(err); ok {
		body.Code = rerr.Code
		body.Category = rerr.Category
		body.Message = rerr.Message
		body.Suggestion = rerr.Suggestion
	}

	log := s.logger.WithError(err).WithFields(logger.Fields{
		"path":   r.URL.Path,
		"status": status,
		"code":   body.Code,
	})
	if status >= http.StatusInternalServerError {
		log.Error("Request failed")
	} else {
		log.Debug("Request rejected")
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
