package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const eventColumns = `id::text, kind, user_address, currency, gross_amount::text, net_amount::text,
        tx_hash, error, status, note, created_at, resolved_at`

// PostgresJournal stores events in the reconciliation_events table.
type PostgresJournal struct {
	db *pgxpool.Pool
}

// NewPostgresJournal constructs a Postgres-backed journal.
func NewPostgresJournal(db *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{db: db}
}

func (j *PostgresJournal) Append(ctx context.Context, e Event) (Event, error) {
	e.ID = uuid.NewString()
	e.Status = StatusOpen
	e.CreatedAt = time.Now().UTC()
	e.ResolvedAt = nil

	const insert = `
        INSERT INTO reconciliation_events (id, kind, user_address, currency, gross_amount, net_amount, tx_hash, error, status, created_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10)`

	_, err := j.db.Exec(ctx, insert, e.ID, string(e.Kind), e.Address, e.Currency,
		e.Gross.String(), e.Net.String(), e.TxHash, e.Error, string(e.Status), e.CreatedAt)
	if err != nil {
		return Event{}, err
	}
	return e, nil
}

func (j *PostgresJournal) List(ctx context.Context, status Status) ([]Event, error) {
	query := `SELECT ` + eventColumns + ` FROM reconciliation_events`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	rows, err := j.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (j *PostgresJournal) Resolve(ctx context.Context, id, note string) (Event, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Event{}, ErrEventNotFound
	}

	const update = `
        UPDATE reconciliation_events
        SET status = $2, note = $3, resolved_at = now()
        WHERE id = $1 AND status = $4
        RETURNING ` + eventColumns

	e, err := scanEvent(j.db.QueryRow(ctx, update, id, string(StatusResolved), note, string(StatusOpen)))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Event{}, err
	}

	existing, err := scanEvent(j.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM reconciliation_events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrEventNotFound
		}
		return Event{}, err
	}
	return existing, ErrAlreadyResolved
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		e          Event
		kind       string
		status     string
		gross, net string
		resolvedAt *time.Time
	)
	if err := row.Scan(&e.ID, &kind, &e.Address, &e.Currency, &gross, &net,
		&e.TxHash, &e.Error, &status, &e.Note, &e.CreatedAt, &resolvedAt); err != nil {
		return Event{}, err
	}
	var err error
	if e.Gross, err = decimal.NewFromString(gross); err != nil {
		return Event{}, fmt.Errorf("parse gross amount: %w", err)
	}
	if e.Net, err = decimal.NewFromString(net); err != nil {
		return Event{}, fmt.Errorf("parse net amount: %w", err)
	}
	e.Kind = Kind(kind)
	e.Status = Status(status)
	e.CreatedAt = e.CreatedAt.UTC()
	if resolvedAt != nil {
		t := resolvedAt.UTC()
		e.ResolvedAt = &t
	}
	return e, nil
}
