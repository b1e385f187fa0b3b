package stage

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestStartsInInit(t *testing.T) {
	m := NewManager()
	assert.Equal(t, Init, m.Current())
	assert.Check(t, m.Accepting())

	m.Store(ShuttingDown)
	assert.Check(t, !m.Accepting())
	m.Store(ShutDown)
	assert.Equal(t, ShutDown, m.Current())
	assert.Check(t, !m.Accepting())
}

func TestCompareAndSwap(t *testing.T) {
	m := NewManager()
	ok := m.CompareAndSwap(Running, ShuttingDown)
	assert.Check(t, !ok, "stage is still init")

	ok = m.CompareAndSwap(Init, Running)
	assert.Check(t, ok)
	assert.Equal(t, Running, m.Current())
	assert.Check(t, m.Accepting())

	m.Store(ShuttingDown)
	assert.Check(t, !m.Accepting())
}

func TestOnlyOneCompareAndSwapSuccess(t *testing.T) {
	successCh := make(chan bool)
	m := NewManager()

	for range 10 {
		go func() {
			successCh <- m.CompareAndSwap(Init, Running)
		}()
	}

	successCount := 0
	for range 10 {
		if <-successCh {
			successCount++
		}
	}
	assert.Equal(t, 1, successCount)
}
