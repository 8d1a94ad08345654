package api

import (
	"encoding/json"
	"net/http"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/gorilla/mux"
)

// ErrorResponse represents a standard JSON error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code,omitempty"`
}

// WriteJSONError writes a JSON error response with the given status code and message
func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeError(w, statusCode, message, "")
}

func writeError(w http.ResponseWriter, statusCode int, message, errorCode string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   message,
		Code:      statusCode,
		ErrorCode: errorCode,
	}

	json.NewEncoder(w).Encode(response)
}

// statusFor maps an error to the HTTP status reported for it.
func statusFor(err error) int {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsValidation(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeStatusError reports err with the status its code maps to and the code name in the body.
func (h *Handler) writeStatusError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	code := domain.CodeOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		h.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "code", code.String())
	}
	writeError(w, status, domain.ReasonOf(err), code.String())
}

// namespaceVar parses the {ns} route variable.
func namespaceVar(r *http.Request) (domain.Namespace, error) {
	return domain.ParseNamespace(mux.Vars(r)["ns"])
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
