package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/lifequest/lifequest-hub/internal/interface/http/handlers"
)

// JSONResponse is the envelope of every API response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// newResponse fills the fields every response carries; success follows status.
func newResponse(r *http.Request, status int, data any, apiErr *APIError) JSONResponse {
	return JSONResponse{
		Success:   status >= 200 && status < 300 && apiErr == nil,
		Data:      data,
		Error:     apiErr,
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1"},
		RequestID: handlers.RequestID(r.Context()),
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeResponse(w, status, newResponse(r, status, data, nil))
}

// writeJSONErrorData writes an error that still carries a payload, e.g.
// computed values whose persistence failed.
func writeJSONErrorData(w http.ResponseWriter, r *http.Request, status int, apiErr *APIError, data any) {
	writeResponse(w, status, newResponse(r, status, data, apiErr))
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSONErrorData(w, r, status, &APIError{Code: code, Message: message}, nil)
}

func writeResponse(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
