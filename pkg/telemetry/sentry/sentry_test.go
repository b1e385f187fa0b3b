package sentry_test

import (
	"context"
	"testing"
	"time"

	"github.com/open-xiv/memo-uploader/pkg/telemetry/sentry"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptyDsnDisables(t *testing.T) {
	require.NoError(t, sentry.New(sentry.Options{}))

	// Disabled reporting must be safe to call from any path.
	sentry.CaptureException(context.Background(), eris.New("boom"), map[string]string{"zone": "1"})
	sentry.Shutdown(context.Background(), time.Second)
}

func TestRecover_Repanics(t *testing.T) {
	assert.PanicsWithValue(t, "boom", func() {
		defer sentry.Recover("consumer", true)
		panic("boom")
	})
}

func TestRecover_SwallowsDetachedPanic(t *testing.T) {
	finished := false
	assert.NotPanics(t, func() {
		defer func() { finished = true }()
		defer sentry.Recover("delivery", false)
		panic("boom")
	})
	assert.True(t, finished)
}

func TestRecover_NoPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer sentry.Recover("consumer", true)
	})
}
