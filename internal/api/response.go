// Package api provides the ops HTTP surface: health checks and manual
// triggers for the evaluation cycle and maintenance jobs. It is not a
// user-facing API; it backs runbooks and local development.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"medremind/internal/types"
)

// maxRequestBodySize is the maximum allowed size of a request body (64 KB).
// Ops trigger payloads are tiny; anything larger is malformed.
const maxRequestBodySize = 64 << 10

// Response is the envelope for successful responses.
type Response struct {
	Data interface{} `json:"data,omitempty"`
}

// ErrorResponse is the envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned to clients.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fallback := ErrorResponse{
			Error: ErrorDetail{
				Code:      string(types.ErrCodeInternalUnexpected),
				Message:   "failed to marshal response",
				RequestID: types.GetRequestID(r.Context()),
			},
		}
		_ = json.NewEncoder(w).Encode(fallback)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes an error response. If the error chain contains a
// *types.AppError, its code determines the HTTP status; generic errors
// become an opaque 500 so internal details never reach the client.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		JSON(w, r, appErr.HTTPStatus(), ErrorResponse{
			Error: ErrorDetail{
				Code:      string(appErr.Code),
				Message:   appErr.Message,
				Details:   appErr.Details,
				RequestID: requestID,
			},
		})
		return
	}

	JSON(w, r, http.StatusInternalServerError, ErrorResponse{
		Error: ErrorDetail{
			Code:      string(types.ErrCodeInternalUnexpected),
			Message:   "an unexpected error occurred",
			RequestID: requestID,
		},
	})
}

// errCodeInvalidJSON is local to the HTTP layer.
const errCodeInvalidJSON types.ErrorCode = "validation_invalid_json"

// DecodeJSON reads the request body into dst with a size cap and strict
// field checking. An empty body is allowed and leaves dst untouched, since
// every ops trigger works with defaults.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return mapDecodeError(err)
	}

	if dec.More() {
		return types.NewAppError(errCodeInvalidJSON, "request body must contain a single JSON object", nil)
	}
	return nil
}

// mapDecodeError translates a json.Decoder error into a structured AppError.
func mapDecodeError(err error) *types.AppError {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return types.NewAppError(errCodeInvalidJSON, "request body too large", err)
	}

	var unmarshalTypeErr *json.UnmarshalTypeError
	if errors.As(err, &unmarshalTypeErr) {
		return types.NewAppError(errCodeInvalidJSON, "invalid value for field", err).WithDetails(map[string]any{
			"field":    unmarshalTypeErr.Field,
			"expected": unmarshalTypeErr.Type.String(),
		})
	}

	if strings.HasPrefix(err.Error(), "json: unknown field") {
		return types.NewAppError(errCodeInvalidJSON,
			"unknown field in request body: "+strings.TrimPrefix(err.Error(), "json: unknown field "), err)
	}

	return types.NewAppError(errCodeInvalidJSON, "malformed JSON in request body", err)
}
