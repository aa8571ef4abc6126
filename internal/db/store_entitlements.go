package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/productivity-tools/m4a-notes/internal/entitlement"
)

// GetEntitlement returns the stored entitlement for userID, or
// entitlement.ErrNotFound.
func (db *DB) GetEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	var (
		e        entitlement.Entitlement
		plan     string
		status   string
		metaJSON []byte
	)
	err := db.Pool.QueryRow(ctx, `
		SELECT user_id, plan, status, provider, meta, updated_at
		FROM entitlements
		WHERE user_id = $1
	`, userID).Scan(&e.UserID, &plan, &status, &e.Provider, &metaJSON, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entitlement: %w", err)
	}

	e.Plan = entitlement.Plan(plan)
	e.Status = entitlement.Status(status)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &e.Meta); err != nil {
			return nil, fmt.Errorf("parse entitlement meta: %w", err)
		}
	}
	return &e, nil
}

// UpsertEntitlement stores e, replacing any existing record for the user.
// Older updates never overwrite newer ones.
func (db *DB) UpsertEntitlement(ctx context.Context, e entitlement.Entitlement) error {
	if e.UserID == "" {
		return errors.New("upsert entitlement: empty user id")
	}
	meta := e.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal entitlement meta: %w", err)
	}
	updatedAt := e.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	provider := e.Provider
	if provider == "" {
		provider = entitlement.DefaultProvider
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO entitlements (user_id, plan, status, provider, meta, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			provider = EXCLUDED.provider,
			meta = EXCLUDED.meta,
			updated_at = EXCLUDED.updated_at
		WHERE entitlements.updated_at <= EXCLUDED.updated_at
	`, e.UserID, string(e.Plan), string(e.Status), provider, metaJSON, updatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert entitlement: %w", err)
	}
	return nil
}

// RecordBillingEvent stores an event id and reports whether it was new.
func (db *DB) RecordBillingEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	var data any
	if json.Valid(payload) {
		data = payload
	}
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO billing_events (event_id, event_type, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, data)
	if err != nil {
		return false, fmt.Errorf("record billing event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ForgetBillingEvent deletes a recorded event id.
func (db *DB) ForgetBillingEvent(ctx context.Context, eventID string) error {
	if _, err := db.Pool.Exec(ctx, "DELETE FROM billing_events WHERE event_id = $1", eventID); err != nil {
		return fmt.Errorf("forget billing event: %w", err)
	}
	return nil
}
