// Package notify delivers short operator messages. Delivery is best effort:
// a failed notification is logged and never surfaces to the caller.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Notifier sends a one-line message to the operator.
type Notifier interface {
	Notify(ctx context.Context, msg string)
}

// Log is a Notifier that only writes messages to the logger. It stands in
// when no push credentials are configured.
type Log struct {
	log *slog.Logger
}

// NewLog returns a Notifier backed by logger.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{log: logger.With("component", "notify")}
}

// Notify logs msg at info level.
func (n *Log) Notify(_ context.Context, msg string) {
	n.log.Info("notification", "message", msg)
}

// Memory records messages in order. Tests use it to assert what an operator
// would have seen.
type Memory struct {
	mu   sync.Mutex
	msgs []string
}

// Notify appends msg.
func (m *Memory) Notify(_ context.Context, msg string) {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
}

// Messages returns a copy of every recorded message.
func (m *Memory) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.msgs))
	copy(out, m.msgs)
	return out
}

// Multi fans a message out to several notifiers.
type Multi []Notifier

// Notify forwards msg to every notifier.
func (m Multi) Notify(ctx context.Context, msg string) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, msg)
		}
	}
}
