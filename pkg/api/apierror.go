// Package api is the HTTP surface of the asset engine: the upload protocol,
// asset metadata endpoints, and certified serving. Error responses use
// RFC 7807 Problem Details.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/veriserve/veriserve/pkg/certification"
	"github.com/veriserve/veriserve/pkg/storage"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID links the response to the request for log correlation.
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://veriserve.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteError(w, http.StatusForbidden, "Forbidden", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
}

// WriteTooManyRequests writes a 429 error response.
func WriteTooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded")
}

// WriteInternal writes a 500 error response without leaking internals.
func WriteInternal(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "")
}

// WriteDomainError maps engine error kinds to HTTP statuses.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidKey):
		WriteError(w, http.StatusBadRequest, "Invalid Key", err.Error())
	case errors.Is(err, storage.ErrUnknownBatch):
		WriteError(w, http.StatusNotFound, "Unknown Batch", err.Error())
	case errors.Is(err, storage.ErrExpired):
		WriteError(w, http.StatusGone, "Batch Expired", err.Error())
	case errors.Is(err, storage.ErrCommitMismatch):
		WriteError(w, http.StatusConflict, "Commit Mismatch", err.Error())
	case errors.Is(err, storage.ErrNotFound):
		WriteNotFound(w, err.Error())
	case errors.Is(err, certification.ErrNotCertified):
		WriteError(w, http.StatusConflict, "Not Certified", err.Error())
	default:
		WriteInternal(w, err)
	}
}
