package api

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

var ErrNoEndpoints = eris.New("no endpoints configured")

// AttemptError is the failure of one raced attempt.
type AttemptError struct {
	Endpoint string
	Err      error
}

// RaceError is returned when every attempt of a race failed. Attempts are in endpoint order.
type RaceError struct {
	Attempts []AttemptError
}

func (e *RaceError) Error() string {
	var b strings.Builder
	b.WriteString("all endpoints failed")
	for _, a := range e.Attempts {
		b.WriteString("; ")
		b.WriteString(a.Endpoint)
		b.WriteString(": ")
		b.WriteString(a.Err.Error())
	}
	return b.String()
}

// All reports whether every attempt failed with target.
func (e *RaceError) All(target error) bool {
	if len(e.Attempts) == 0 {
		return false
	}
	for _, a := range e.Attempts {
		if !eris.Is(a.Err, target) {
			return false
		}
	}
	return true
}

type outcome[T any] struct {
	index int
	value T
	err   error
}

// Race runs attempt against every endpoint concurrently and returns the first success along with
// the endpoint that produced it. The context handed to the remaining attempts is cancelled as soon
// as one succeeds. When all attempts fail the error is a *RaceError.
func Race[T any](
	ctx context.Context,
	endpoints []string,
	attempt func(ctx context.Context, endpoint string) (T, error),
) (T, string, error) {
	var zero T
	if len(endpoints) == 0 {
		return zero, "", eris.Wrap(ErrNoEndpoints, "")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so losing attempts never block after the race returns.
	results := make(chan outcome[T], len(endpoints))
	for i, endpoint := range endpoints {
		go func() {
			v, err := attempt(ctx, endpoint)
			results <- outcome[T]{index: i, value: v, err: err}
		}()
	}

	failures := make([]AttemptError, len(endpoints))
	for range endpoints {
		res := <-results
		if res.err == nil {
			return res.value, endpoints[res.index], nil
		}
		failures[res.index] = AttemptError{Endpoint: endpoints[res.index], Err: res.err}
	}
	return zero, "", &RaceError{Attempts: failures}
}
