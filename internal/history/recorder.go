// Package history materializes the engine's outbound events into queryable
// Postgres tables. It sits strictly downstream of the engine: a lagging or
// failed projection never affects trading state, and the tables can be
// rebuilt by replaying the event stream.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"SynthPerp/internal/engine"
	"SynthPerp/internal/event"
)

// EventRecord is one row of the raw event log.
type EventRecord struct {
	ID         int64           `json:"id"`
	EventType  string          `json:"event_type"`
	Subject    string          `json:"subject"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// FundingEntry is one funding payment applied to a position. Paid is
// positive when the user paid funding and negative when the user received
// it.
type FundingEntry struct {
	ID           int64     `json:"id"`
	Owner        uuid.UUID `json:"owner"`
	Asset        string    `json:"asset"`
	Paid         int64     `json:"paid"`
	FundingIndex int64     `json:"funding_index"`
	AppliedAt    time.Time `json:"applied_at"`
}

// Recorder writes and reads the history tables.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// RecordEvent appends one raw event. Funding applications additionally
// land in the funding_history table so per-user queries stay cheap.
func (r *Recorder) RecordEvent(ctx context.Context, eventType, subject string, payload []byte, receivedAt time.Time) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO event_history (event_type, subject, payload, received_at)
		VALUES ($1, $2, $3, $4)
	`, eventType, subject, payload, receivedAt); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if eventType != string(event.TypeFundingApplied) {
		return nil
	}

	var applied event.FundingApplied
	if err := json.Unmarshal(payload, &applied); err != nil {
		return fmt.Errorf("decode funding payload: %w", err)
	}
	asset, ok := engine.ParseAsset(applied.Asset)
	if !ok {
		return fmt.Errorf("funding payload: unknown asset %q", applied.Asset)
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO funding_history (owner, asset_id, paid, funding_index, applied_at)
		VALUES ($1, $2, $3, $4, $5)
	`, applied.Owner, int16(asset), applied.Paid, applied.Index, applied.Timestamp); err != nil {
		return fmt.Errorf("insert funding entry: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events first, optionally filtered by
// event type.
func (r *Recorder) RecentEvents(ctx context.Context, eventType string, limit int) ([]EventRecord, error) {
	limit = clampLimit(limit)

	var (
		rows *sql.Rows
		err  error
	)
	if eventType == "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, event_type, subject, payload, received_at
			FROM event_history
			ORDER BY id DESC
			LIMIT $1
		`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, event_type, subject, payload, received_at
			FROM event_history
			WHERE event_type = $1
			ORDER BY id DESC
			LIMIT $2
		`, eventType, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var rec EventRecord
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.Subject, &rec.Payload, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FundingByOwner returns the newest funding payments for one account.
func (r *Recorder) FundingByOwner(ctx context.Context, owner uuid.UUID, limit int) ([]FundingEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner, asset_id, paid, funding_index, applied_at
		FROM funding_history
		WHERE owner = $1
		ORDER BY id DESC
		LIMIT $2
	`, owner, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query funding by owner: %w", err)
	}
	defer rows.Close()
	return scanFundingRows(rows)
}

// FundingByAsset returns the newest funding payments on one instrument.
func (r *Recorder) FundingByAsset(ctx context.Context, asset engine.Asset, limit int) ([]FundingEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner, asset_id, paid, funding_index, applied_at
		FROM funding_history
		WHERE asset_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, int16(asset), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query funding by asset: %w", err)
	}
	defer rows.Close()
	return scanFundingRows(rows)
}

func scanFundingRows(rows *sql.Rows) ([]FundingEntry, error) {
	var entries []FundingEntry
	for rows.Next() {
		var (
			entry   FundingEntry
			assetID int16
		)
		if err := rows.Scan(&entry.ID, &entry.Owner, &assetID, &entry.Paid, &entry.FundingIndex, &entry.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan funding entry: %w", err)
		}
		entry.Asset = engine.Asset(assetID).String()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
