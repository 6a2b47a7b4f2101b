// Package notification delivers run summaries (screening candidates, sync
// failures) to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"quotesync/internal/model"
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
	Level      AlertLevel        `json:"level"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Candidates []model.Candidate `json:"candidates,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CandidateAlert summarises a screening run. Forced reports that include
// non-passing tickers are marked as such in the title.
func CandidateAlert(candidates []model.Candidate) Alert {
	var bull, bear, passed int
	lines := make([]string, 0, len(candidates))
	for _, c := range candidates {
		switch c.Trend {
		case model.Bull:
			bull++
		case model.Bear:
			bear++
		}
		if c.Passed {
			passed++
		}
		lines = append(lines, fmt.Sprintf("%s %s stoch=%.1f adx=%.1f close=%.2f",
			c.Ticker, c.Trend, c.SlowStoch, c.ADX, c.Close))
	}

	title := fmt.Sprintf("Trend candidates: %d bull, %d bear", bull, bear)
	if passed != len(candidates) {
		title += fmt.Sprintf(" (%d of %d passed filters)", passed, len(candidates))
	}
	if len(lines) == 0 {
		lines = append(lines, "no tickers matched")
	}
	return Alert{
		Level:      AlertInfo,
		Title:      title,
		Message:    strings.Join(lines, "\n"),
		Candidates: candidates,
	}
}
