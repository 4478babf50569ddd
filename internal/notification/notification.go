// Package notification delivers operator alerts raised by the custody flows.
package notification

import (
	"context"
	"log/slog"
	"sort"
)

const (
	// KindReconciliationRequired signals a chain/ledger divergence that needs
	// manual handling.
	KindReconciliationRequired = "reconciliation_required"
	// KindTreasuryLowFunds signals the treasury could not cover a withdrawal.
	KindTreasuryLowFunds = "treasury_low_funds"
)

// DestinationOperators routes a message to the on-call operator channel.
const DestinationOperators = "operators"

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
	Fields      map[string]string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger at WARN so
// they surface in log-based alerting.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	attrs := []slog.Attr{
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("body", message.Body),
	}
	keys := make([]string, 0, len(message.Fields))
	for k := range message.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, message.Fields[k]))
	}
	n.logger.LogAttrs(ctx, slog.LevelWarn, "notification", attrs...)
	return nil
}
