package response

import (
	"encoding/json"
	"net/http"
)

// Error codes carried alongside the HTTP status so clients can branch
// without string matching. TokenExpired in particular must be
// distinguishable from a generic 401: it triggers silent
// re-authentication instead of a prompt.
const (
	CodeUnauthorized = "unauthorized"
	CodeTokenExpired = "token_expired"
	CodeNotFound     = "not_found"
	CodeRateLimited  = "rate_limited"
)

// Response represents a standard API response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   any    `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// Error sends an error response
func Error(w http.ResponseWriter, status int, message any) {
	ErrorCode(w, status, "", message)
}

// ErrorCode sends an error response with a machine-readable code
func ErrorCode(w http.ResponseWriter, status int, code string, message any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   message,
		Code:    code,
	})
}

// OK sends a 200 OK response with data
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created sends a 201 Created response with data
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// BadRequest sends a 400 Bad Request response
func BadRequest(w http.ResponseWriter, message any) {
	Error(w, http.StatusBadRequest, message)
}

// Unauthorized sends a 401 Unauthorized response
func Unauthorized(w http.ResponseWriter, message any) {
	ErrorCode(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// TokenExpired sends a 401 with the token-expired marker
func TokenExpired(w http.ResponseWriter) {
	ErrorCode(w, http.StatusUnauthorized, CodeTokenExpired, "token expired")
}

// Forbidden sends a 403 Forbidden response
func Forbidden(w http.ResponseWriter, message any) {
	Error(w, http.StatusForbidden, message)
}

// NotFound sends a 404 Not Found response
func NotFound(w http.ResponseWriter, message any) {
	ErrorCode(w, http.StatusNotFound, CodeNotFound, message)
}

// InternalError sends a 500 Internal Server Error response
func InternalError(w http.ResponseWriter, message any) {
	Error(w, http.StatusInternalServerError, message)
}
