// Package alert delivers price-drop notifications when a sync records a
// new all-time low for a tracked game.
package alert

import (
	"context"
	"errors"
	"fmt"
)

// Notification describes one new historic low.
type Notification struct {
	AppID    int64   `json:"app_id"`
	Title    string  `json:"title"`
	Store    string  `json:"store"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	URL      string  `json:"url,omitempty"`
}

func (n *Notification) priceLabel() string {
	symbol := "£"
	if n.Currency == "USD" {
		symbol = "$"
	}
	return fmt.Sprintf("%s%.2f", symbol, n.Price)
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
