package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/good-yellow-bee/hostdeck/internal/api/middleware"
)

const (
	// maxBodyBytes bounds admin request bodies.
	maxBodyBytes = 1 << 20
	defaultLimit = 50
	maxLimit     = 500
)

// Response is a standard API response wrapper.
type Response struct {
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Response{Data: data}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

// JSONError writes a JSON error response.
func JSONError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	if encErr := json.NewEncoder(w).Encode(Response{Error: err}); encErr != nil {
		log.Printf("json encode error: %v", encErr)
	}
}

// Created writes a 201 Created response.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// Accepted writes a 202 Accepted response.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, data)
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// internalError logs err under op and writes a 500.
func internalError(w http.ResponseWriter, op string, err error) {
	log.Printf("error: %s: %v", op, err)
	JSONError(w, ErrInternalServer)
}

// adminSubject returns the operator named by the request's bearer token.
func adminSubject(r *http.Request) string {
	return middleware.GetSubject(r.Context())
}

// logAdmin logs a state change made through the admin API.
func logAdmin(r *http.Request, format string, args ...any) {
	log.Printf("[admin:%s] %s", adminSubject(r), fmt.Sprintf(format, args...))
}

// decodeBody decodes a JSON request body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// limitParam reads the "limit" query parameter, clamped to [1, maxLimit].
func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

// ListResponse wraps a list with its size.
type ListResponse struct {
	Items any `json:"items"`
	Count int `json:"count"`
}
