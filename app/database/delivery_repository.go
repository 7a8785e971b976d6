package database

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/scrapiens/scrapiens/app/history"
)

// DeliveryRepository is the SQLite-backed delivery history. It satisfies
// the same contract as the JSON document store; transactional writes give
// the same no-torn-store guarantee as the atomic document swap.
type DeliveryRepository struct {
	db *DB
}

var _ history.DeliveryStore = (*DeliveryRepository)(nil)

// NewDeliveryRepository wires a migrated database connection.
func NewDeliveryRepository(db *DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// WasDelivered looks up the authoritative record for a pair.
func (r *DeliveryRepository) WasDelivered(grantID, recipient string) (bool, history.Outcome, error) {
	query, args, err := sq.Select("outcome").
		From("deliveries").
		Where(sq.Eq{"grant_url": grantID, "recipient": recipient}).
		ToSql()
	if err != nil {
		return false, "", fmt.Errorf("failed to build lookup query: %w", err)
	}

	var outcome string
	err = r.db.QueryRow(query, args...).Scan(&outcome)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to look up delivery: %w", err)
	}

	return true, history.Outcome(outcome), nil
}

// RecordDelivery upserts the delivery record for a pair. A failed attempt
// never overwrites an earlier successful delivery.
func (r *DeliveryRepository) RecordDelivery(grantID, recipient string, outcome history.Outcome, channelID string, at time.Time) error {
	query, args, err := sq.Insert("deliveries").
		Columns("grant_url", "recipient", "outcome", "channel_id", "sent_at").
		Values(grantID, recipient, string(outcome), channelID, at.UTC()).
		Suffix(`ON CONFLICT (grant_url, recipient) DO UPDATE SET
			outcome = excluded.outcome,
			channel_id = excluded.channel_id,
			sent_at = excluded.sent_at
			WHERE NOT (deliveries.outcome = 'delivered' AND excluded.outcome = 'failed')`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert query: %w", err)
	}

	if _, err := r.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// Stats returns record and distinct grant counts.
func (r *DeliveryRepository) Stats() (history.Stats, error) {
	var stats history.Stats
	err := r.db.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT grant_url) FROM deliveries`).
		Scan(&stats.RecordCount, &stats.DistinctGrantCount)
	if err != nil {
		return history.Stats{}, fmt.Errorf("failed to count deliveries: %w", err)
	}
	return stats, nil
}
