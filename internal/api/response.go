package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nhle/email-mcp/internal/mailbox"
	"github.com/nhle/email-mcp/internal/service"
	"github.com/nhle/email-mcp/internal/store"
)

// Error codes returned in APIError.Code.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeToolNotFound    = "TOOL_NOT_FOUND"
	CodeNotFound        = "NOT_FOUND"
	CodeFolderError     = "FOLDER_ERROR"
	CodeAuthFailed      = "AUTHENTICATION_FAILED"
	CodeUpstreamError   = "UPSTREAM_ERROR"
	CodeProtocolError   = "PROTOCOL_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
)

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	})
}

// classify maps an operation error to an HTTP status and error code.
func classify(err error) (int, string) {
	var (
		authErr     *mailbox.AuthenticationError
		connErr     *mailbox.ConnectionError
		protocolErr *mailbox.ProtocolError
		fieldErrs   validator.ValidationErrors
	)
	switch {
	case mailbox.IsValidation(err), errors.As(err, &fieldErrs):
		return http.StatusBadRequest, CodeValidationError
	case mailbox.IsNotFound(err), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case mailbox.IsFolderError(err):
		return http.StatusConflict, CodeFolderError
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, CodeAuthFailed
	case errors.As(err, &connErr), errors.Is(err, service.ErrSendFailed):
		return http.StatusBadGateway, CodeUpstreamError
	case errors.As(err, &protocolErr):
		return http.StatusBadGateway, CodeProtocolError
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

// validationDetails lists the failed rule of every invalid argument.
func validationDetails(err error) map[string][]string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details := make(map[string][]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[fe.Field()] = append(details[fe.Field()], "failed "+fe.Tag())
		}
		return details
	}
	var validationErr *mailbox.ValidationError
	if errors.As(err, &validationErr) && validationErr.Field != "" {
		return map[string][]string{validationErr.Field: {validationErr.Message}}
	}
	return nil
}
