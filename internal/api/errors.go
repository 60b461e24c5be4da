package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/kalambet/newsposter/internal/apperr"
	"github.com/kalambet/newsposter/internal/metrics"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case apperr.KindDuplicate:
		return http.StatusConflict
	case apperr.KindLLMProvider, apperr.KindUpstream:
		return http.StatusBadGateway
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status code and the JSON error body. Errors that
// are not classified are reported as internal without their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.From(err)
	if !ok {
		slog.Error("unclassified error", "path", r.URL.Path, "error", err)
		httpError(w, http.StatusInternalServerError, string(apperr.KindInternal), "internal server error")
		return
	}

	metrics.RecordRejection(err)
	code := statusFor(e.Kind)
	if code >= 500 {
		slog.Error("request failed", "path", r.URL.Path, "type", e.Kind, "error", err)
	}
	msg := e.Message
	if e.Kind == apperr.KindDatabase {
		msg = "internal database error occurred"
	}
	writeErrorBody(w, code, string(e.Kind), msg, e.Details)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeErrorBody(w, code, errType, fmt.Sprintf(format, args...), nil)
}

func writeErrorBody(w http.ResponseWriter, code int, errType, msg string, details map[string]any) {
	body := map[string]any{
		"message": msg,
		"type":    errType,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	writeJSON(w, code, map[string]any{"error": body})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON request body of at most maxRequestBodySize bytes.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return decode(w, r, v, false)
}

// decodeOptionalBody is decodeBody for endpoints where the body may be absent.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) error {
	return decode(w, r, v, true)
}

func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		if optional {
			return nil
		}
		return apperr.Validation("body", nil, "request body is empty")
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.Validation("body", tooLarge.Limit, "request body too large")
	}
	return apperr.Validation("body", nil, fmt.Sprintf("invalid JSON: %v", err))
}
