package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	chimw "github.com/go-chi/chi/v5/middleware"

	perr "github.com/ppiankov/verity/internal/errors"
	"github.com/ppiankov/verity/internal/logger"
)

// Envelope is the body of every error response
type Envelope struct {
	StatusCode int    `json:"status_code"`
	Status     string `json:"status"`
	Code       string `json:"code,omitempty"`
	Error      string `json:"error,omitempty"`
	Field      string `json:"field,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// JSON writes v as application/json with the given status
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RespondError maps err into an envelope and writes it
// Internal faults are logged with their cause and answered with a generic message
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	if _, ok := perr.As(err); !ok && errors.Is(err, context.DeadlineExceeded) {
		err = perr.Wrap(err, perr.ErrorCodeTimeout, "request deadline exceeded")
	}

	status, wire := perr.HTTP(err)
	if status >= http.StatusInternalServerError {
		ev := logger.C(r.Context()).Error().Err(err).Int("status", status)
		if e, ok := perr.As(err); ok && e.Op() != "" {
			ev = ev.Str("op", e.Op())
		}
		ev.Msg("request failed")
	}
	if d := perr.RetryAfter(err); d > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.Seconds())))
	}

	JSON(w, status, Envelope{
		StatusCode: status,
		Status:     http.StatusText(status),
		Code:       wire.Code.String(),
		Error:      wire.Message,
		Field:      wire.Field,
		RequestID:  chimw.GetReqID(r.Context()),
	})
}
