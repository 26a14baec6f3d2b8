// Package embed maps normalized text to unit-length vectors
package embed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ppiankov/verity/internal/model"
)

// Backend produces raw embeddings for a batch of texts
type Backend interface {
	// Name returns the backend name
	Name() string

	// Embed returns one vector per input text, in input order
	Embed(ctx context.Context, texts []string) ([]model.Vector, error)

	// Dimensions returns the vector length, 0 when the backend decides
	Dimensions() int
}

// StatusError is a non-2xx reply from a remote embedding backend
type StatusError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Backend, e.StatusCode, body)
}

// Transient reports whether a retry may succeed
func (e *StatusError) Transient() bool {
	return transientStatus(e.StatusCode)
}

func transientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}

// IsTransient classifies backend errors for retry
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
