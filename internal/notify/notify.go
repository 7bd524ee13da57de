// Package notify alerts support staff about consultations that need attention.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Level grades an alert.
type Level string

const (
	LevelInfo   Level = "info"
	LevelUrgent Level = "urgent"
)

// Alert is a staff-facing notification.
type Alert struct {
	Level          Level
	Title          string
	Text           string
	ConsultationID string // optional
	Category       string // optional
}

// Notifier delivers alerts to staff.
type Notifier interface {
	// Name returns the backend name (e.g., "slack", "telegram").
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// Multi fans an alert out to every notifier. One failing backend does not
// stop the others; the errors are joined.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Log writes alerts to the logger. Used when no chat backend is configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Name() string { return "log" }

func (l Log) Notify(_ context.Context, a Alert) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"title", a.Title, "text", a.Text}
	if a.ConsultationID != "" {
		attrs = append(attrs, "consultation", a.ConsultationID)
	}
	if a.Level == LevelUrgent {
		logger.Warn("staff alert", attrs...)
	} else {
		logger.Info("staff alert", attrs...)
	}
	return nil
}
