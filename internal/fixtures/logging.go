package fixtures

import (
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// writer sends log lines to the test log.  Lines written after the test finished are dropped, as
// background goroutines may still be winding down.
type writer struct {
	mu   sync.Mutex
	tb   testing.TB
	done bool
}

var _ io.Writer = (*writer)(nil)

func (w *writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.tb.Log(strings.TrimSuffix(string(p), "\n"))
	}
	return len(p), nil
}

func (w *writer) finish() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done = true
}

// WithLevel sets the level of a test logger.
func WithLevel(level logrus.Level) func(*logrus.Logger) {
	return func(l *logrus.Logger) {
		l.SetLevel(level)
	}
}

// NewTestLogger returns a logger writing to the test log, at debug level unless an option says otherwise.
func NewTestLogger(tb testing.TB, opts ...func(*logrus.Logger)) logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)

	for _, opt := range opts {
		opt(l)
	}
	w := &writer{tb: tb}
	tb.Cleanup(w.finish)
	l.SetOutput(w)

	return l
}
