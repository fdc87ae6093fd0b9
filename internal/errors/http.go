// Package errors holds the JSON error envelope shared by the HTTP surface.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Error codes used in HTTP responses.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// HTTPErrorResponse is the body of every non-2xx JSON response.
type HTTPErrorResponse struct {
	Error HTTPErrorBody `json:"error"`
}

type HTTPErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPError carries a status and code through an error return.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *HTTPError) Error() string {
	return e.Code + ": " + e.Message
}

func NotFound(message string) *HTTPError {
	return &HTTPError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

func MethodNotAllowed(message string) *HTTPError {
	return &HTTPError{Status: http.StatusMethodNotAllowed, Code: CodeMethodNotAllowed, Message: message}
}

func ServiceUnavailable(message string, details map[string]any) *HTTPError {
	return &HTTPError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Details: details}
}

// RespondWithError writes err as a JSON envelope. Errors that are not an
// *HTTPError become a 500.
func RespondWithError(w http.ResponseWriter, _ *http.Request, err error) {
	var he *HTTPError
	if !errors.As(err, &he) {
		he = &HTTPError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: err.Error()}
	}
	WriteJSON(w, he.Status, HTTPErrorResponse{Error: HTTPErrorBody{
		Code:    he.Code,
		Message: he.Message,
		Details: he.Details,
	}})
}

// WriteJSON encodes body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
