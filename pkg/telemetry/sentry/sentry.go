// Package sentry reports panics and fatal errors of the uploader's goroutines when a DSN is
// configured. Every call is a no-op otherwise.
package sentry

import (
	"context"
	"time"

	sentrygo "github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/trace"
)

const flushTimeout = 5 * time.Second

type Options struct {
	Dsn         string
	Environment string
	// Release is reported as the client version of every event.
	Release string
	Tags    map[string]string
}

// New initializes the sentry client. An empty DSN leaves sentry disabled.
func New(opt Options) error {
	if opt.Dsn == "" {
		return nil
	}

	err := sentrygo.Init(sentrygo.ClientOptions{
		Dsn:         opt.Dsn,
		Environment: opt.Environment,
		Release:     opt.Release,
		Tags:        opt.Tags,
	})
	if err != nil {
		return eris.Wrap(err, "failed to initialize sentry")
	}
	return nil
}

// Recover must be deferred directly. It reports a panic of the goroutine tagged with component.
// With repanic the panic continues after the report; without it the goroutine ends quietly, which
// suits detached work whose failure must not take the consumer down.
func Recover(component string, repanic bool) {
	r := recover()
	if r == nil {
		return
	}
	if isInitialized() {
		hub := sentrygo.CurrentHub().Clone()
		hub.Scope().SetTag("component", component)
		hub.Recover(r)
		hub.Flush(flushTimeout)
	}
	if repanic {
		panic(r)
	}
}

// CaptureException reports a handled error with the trace id of ctx and the given tags.
func CaptureException(ctx context.Context, err error, tags map[string]string) {
	if !isInitialized() || err == nil {
		return
	}
	hub := sentrygo.CurrentHub().Clone()
	scope := hub.Scope()
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		scope.SetTag("trace_id", spanCtx.TraceID().String())
	}
	scope.SetTags(tags)
	hub.CaptureException(err)
}

// Shutdown flushes buffered events, bounded by timeout or the context deadline.
func Shutdown(ctx context.Context, timeout time.Duration) {
	if !isInitialized() {
		return
	}
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until > 0 && until < timeout {
			timeout = until
		}
	}
	sentrygo.Flush(timeout)
}

func isInitialized() bool {
	return sentrygo.CurrentHub().Client() != nil
}
