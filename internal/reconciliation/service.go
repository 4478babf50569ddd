package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bynomo/bynomo/internal/metrics"
	"github.com/bynomo/bynomo/internal/notification"
)

const reportTimeout = 5 * time.Second

// Service records divergences and alerts operators.
type Service struct {
	journal  Journal
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// unjournaled holds events the journal rejected, so they still block
	// payouts until the process restarts.
	mu          sync.Mutex
	unjournaled []Event
}

// NewService wires the journal with alerting and metrics. notifier and m may
// be nil.
func NewService(journal Journal, notifier notification.Notifier, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{journal: journal, notifier: notifier, metrics: m, logger: logger}
}

// Report journals a divergence. It never fails the caller: when the journal
// itself is unavailable the full event is logged at ERROR instead so it can
// be recovered from logs.
func (s *Service) Report(ctx context.Context, e Event) Event {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	attrs := []any{
		slog.String("kind", string(e.Kind)),
		slog.String("user_address", e.Address),
		slog.String("currency", e.Currency),
		slog.String("gross_amount", e.Gross.String()),
		slog.String("net_amount", e.Net.String()),
		slog.String("tx_hash", e.TxHash),
		slog.String("cause", e.Error),
	}

	s.metrics.ObserveReconciliation(string(e.Kind))

	stored, err := s.journal.Append(ctx, e)
	if err != nil {
		s.logger.Error("reconciliation.journal_unavailable", append(attrs, slog.Any("error", err))...)
		stored = e
		stored.Status = StatusOpen
		stored.CreatedAt = time.Now().UTC()
		s.mu.Lock()
		s.unjournaled = append(s.unjournaled, stored)
		s.mu.Unlock()
	} else {
		s.logger.Error("reconciliation.required", append(attrs, slog.String("event_id", stored.ID))...)
	}

	if s.notifier != nil {
		msg := notification.Message{
			Kind:        notification.KindReconciliationRequired,
			Destination: notification.DestinationOperators,
			Body:        string(e.Kind),
			Fields: map[string]string{
				"event_id":     stored.ID,
				"user_address": e.Address,
				"currency":     e.Currency,
				"gross_amount": e.Gross.String(),
				"tx_hash":      e.TxHash,
			},
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.Warn("reconciliation.notify_failed", slog.String("event_id", stored.ID), slog.Any("error", err))
		}
	}
	return stored
}

// List returns events in the given status; empty means all.
func (s *Service) List(ctx context.Context, status Status) ([]Event, error) {
	return s.journal.List(ctx, status)
}

// Unsettled returns the open events that block new payouts for an account:
// transfers that may still land and payouts whose debit failed. Either way
// the ledger balance overstates what the user may withdraw.
func (s *Service) Unsettled(ctx context.Context, address, currency string) ([]Event, error) {
	open, err := s.journal.List(ctx, StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("list open events: %w", err)
	}
	s.mu.Lock()
	open = append(open, s.unjournaled...)
	s.mu.Unlock()

	var out []Event
	for _, e := range open {
		if e.Kind != KindTransferUnconfirmed && e.Kind != KindWithdrawalLedgerFailure {
			continue
		}
		if strings.EqualFold(e.Address, address) && strings.EqualFold(e.Currency, currency) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Resolve closes an open event with an operator note.
func (s *Service) Resolve(ctx context.Context, id, note string) (Event, error) {
	e, err := s.journal.Resolve(ctx, id, note)
	if err != nil {
		return e, err
	}
	s.logger.Info("reconciliation.resolved", slog.String("event_id", e.ID), slog.String("kind", string(e.Kind)))
	return e, nil
}
