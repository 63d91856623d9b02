// Package http provides HTTP server and handler implementations.
//
// This file implements a small fluent builder for JSON and plain-text
// responses so every handler writes status, headers and errors the same way.

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseBuilder provides a fluent API for building API responses.
type ResponseBuilder struct {
	statusCode  int
	headers     map[string]string
	payload     any
	text        []byte
	contentType string
}

// NewResponse creates a new response builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON sets a value to be encoded as the response body.
func (b *ResponseBuilder) JSON(v any) *ResponseBuilder {
	b.payload = v
	b.text = nil
	b.contentType = "application/json"
	return b
}

// Text sets a plain UTF-8 response body.
func (b *ResponseBuilder) Text(s string) *ResponseBuilder {
	b.text = []byte(s)
	b.payload = nil
	b.contentType = "text/plain; charset=utf-8"
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}

	var body []byte
	if b.payload != nil {
		encoded, err := json.Marshal(b.payload)
		if err != nil {
			slog.Error("Failed to encode response", "error", err)
			b.statusCode = http.StatusInternalServerError
			encoded = []byte(`{"error":{"code":"internal","message":"response encoding failed"}}`)
		}
		body = append(encoded, '\n')
	} else {
		body = b.text
	}

	if b.contentType != "" {
		w.Header().Set("Content-Type", b.contentType)
	}
	w.WriteHeader(b.statusCode)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

// ErrorResponse creates a JSON error response with a machine-readable code.
func ErrorResponse(statusCode int, code, message string) *ResponseBuilder {
	return NewResponse().
		Status(statusCode).
		JSON(ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

func BadRequestError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, "bad_request", message)
}

func InternalServerError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, "internal", message)
}

// UnavailableError creates a 503 asking the caller to retry later.
func UnavailableError(message string, retryAfterSeconds int) *ResponseBuilder {
	b := ErrorResponse(http.StatusServiceUnavailable, "unavailable", message)
	if retryAfterSeconds > 0 {
		b.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	return b
}
