// Package notification delivers trading alerts to external channels
// (Discord, Telegram). Delivery is best effort: a dead webhook must
// never block or fail a trade.
package notification

import (
	"context"
	"log"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts instead of delivering them. Used when no
// channel is configured and in tests.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// MultiNotifier fans an alert out to every configured backend. A failed
// backend is logged and skipped; the others still receive the alert.
type MultiNotifier struct {
	backends []Notifier
}

// NewMultiNotifier creates a fan-out notifier over the given backends.
func NewMultiNotifier(backends ...Notifier) *MultiNotifier {
	return &MultiNotifier{backends: backends}
}

func (m *MultiNotifier) Send(ctx context.Context, alert Alert) error {
	for _, b := range m.backends {
		if err := b.Send(ctx, alert); err != nil {
			log.Printf("[notify] backend delivery failed: %v", err)
		}
	}
	return nil
}

// SendAsync fires an alert without blocking the caller. The trading
// path calls this so a slow webhook cannot stall order handling.
func SendAsync(n Notifier, alert Alert) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[notify] delivery failed: %v", err)
		}
	}()
}
