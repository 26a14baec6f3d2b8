package errors

import (
	stderrs "errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestHTTPStatusCodeMapping(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{ErrorCodeNotFound, http.StatusNotFound},
		{ErrorCodeValidation, http.StatusBadRequest},
		{ErrorCodeJSON, http.StatusBadRequest},
		{ErrorCodeUnauthorized, http.StatusUnauthorized},
		{ErrorCodeTooManyRequests, http.StatusTooManyRequests},
		{ErrorCodeUnavailable, http.StatusServiceUnavailable},
		{ErrorCodeTimeout, http.StatusGatewayTimeout},
		{ErrorCodePanic, http.StatusInternalServerError},
		{ErrorCodeUnknown, http.StatusInternalServerError},
		{9999, http.StatusInternalServerError}, // default branch
	}
	for _, c := range cases {
		if got := HTTPStatusCode(c.code); got != c.want {
			t.Fatalf("HTTPStatusCode(%v) = %d, want %d", c.code, got, c.want)
		}
	}
}

func TestErrorTypeAndMethods(t *testing.T) {
	var e *Error
	if e.Error() != "<nil>" {
		t.Fatalf("nil *Error render = %q, want <nil>", e.Error())
	}

	e1 := Validationf("claim is %s", "empty")
	if CodeOf(e1) != ErrorCodeValidation {
		t.Fatalf("CodeOf(Validationf) = %v", CodeOf(e1))
	}
	if e1.Error() != "claim is empty" {
		t.Fatalf("Validationf().Error = %q", e1.Error())
	}

	src := stderrs.New("connection refused")
	e2 := Wrap(src, ErrorCodeUnavailable, "embedding backend")
	if !stderrs.Is(e2, src) {
		t.Fatalf("Wrap did not keep orig")
	}
	if e2.Error() != "embedding backend: connection refused" {
		t.Fatalf("Wrap().Error = %q", e2.Error())
	}
	if stderrs.Unwrap(e2) != src {
		t.Fatalf("Unwrap = %v, want src", stderrs.Unwrap(e2))
	}

	// foreign wrapping keeps our code reachable
	outer := fmt.Errorf("pipeline: %w", e2)
	if !IsCode(outer, ErrorCodeUnavailable) {
		t.Fatalf("IsCode through fmt wrap failed")
	}
	if !Transient(outer) {
		t.Fatalf("Transient(unavailable) = false")
	}
	if Transient(e1) {
		t.Fatalf("Transient(validation) = true")
	}
}

func TestMutatorsCopyOnWrite(t *testing.T) {
	base := Validationf("bad")
	withField := WithField(base, "claim")
	if got, _ := As(withField); got.Field() != "claim" {
		t.Fatalf("field = %q", got.Field())
	}
	if got, _ := As(base); got.Field() != "" {
		t.Fatalf("base mutated: field = %q", got.Field())
	}

	withOp := WithOp(base, "embed")
	if got, _ := As(withOp); got.Op() != "embed" {
		t.Fatalf("op = %q", got.Op())
	}

	foreign := stderrs.New("x")
	if WithField(foreign, "f") != foreign {
		t.Fatalf("WithField should leave foreign errors unchanged")
	}
}

func TestRetryAfter(t *testing.T) {
	err := TooManyRequests(1500 * time.Millisecond)
	if RetryAfter(err) != 1500*time.Millisecond {
		t.Fatalf("RetryAfter = %v", RetryAfter(err))
	}
	if HTTPStatus(err) != http.StatusTooManyRequests {
		t.Fatalf("HTTPStatus = %d", HTTPStatus(err))
	}
	bumped := WithRetryAfter(err, 3*time.Second)
	if RetryAfter(bumped) != 3*time.Second || RetryAfter(err) != 1500*time.Millisecond {
		t.Fatalf("WithRetryAfter not copy-on-write")
	}
	if RetryAfter(stderrs.New("plain")) != 0 {
		t.Fatalf("foreign error carries retry-after")
	}
}

func TestWireFromHidesInternalDetail(t *testing.T) {
	w := WireFrom(stderrs.New("pq: password authentication failed for user verity"))
	if w.Code != ErrorCodeUnknown || w.Message != "internal error" {
		t.Fatalf("foreign wire = %+v", w)
	}

	w = WireFrom(Internalf("nil pointer in ranker"))
	if w.Message != "internal error" {
		t.Fatalf("internal wire leaked %q", w.Message)
	}

	w = WireFrom(WithField(Validationf("claim is required"), "claim"))
	if w.Code != ErrorCodeValidation || w.Message != "claim is required" || w.Field != "claim" {
		t.Fatalf("validation wire = %+v", w)
	}

	status, w := HTTP(nil)
	if status != http.StatusOK || w != (Wire{}) {
		t.Fatalf("HTTP(nil) = %d %+v", status, w)
	}
}
