package notifications

import "github.com/tradecore/execd/pkg/types"

// Notifier defines the interface for notification services
type Notifier interface {
	// Notify delivers a risk alert to the configured channel
	Notify(alert types.Alert) error
}

// NopNotifier discards alerts; used when no channel is configured
type NopNotifier struct{}

func (NopNotifier) Notify(types.Alert) error { return nil }

// MultiNotifier fans an alert out to several channels; the first
// delivery error is returned after all channels are attempted
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(alert types.Alert) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
