//go:build test

package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Context returns a context cancelled after d or at test cleanup.
func (h *TestHelper) Context(d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	h.T.Cleanup(cancel)
	return ctx
}

// Eventually polls cond every 5ms until it holds or d elapses.
func (h *TestHelper) Eventually(d time.Duration, cond func() bool, msg string) {
	h.T.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.T.Fatalf("condition not met within %v: %s", d, msg)
}
