package history

import "time"

// Outcome is the transport-level result of one delivery attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
)

// DeliveryRecord is the persisted evidence that a (grant, recipient) pair
// was attempted. The grant identifier is the canonical source URL, never a
// mutable title.
type DeliveryRecord struct {
	SentAt    time.Time `json:"sent_at"`
	Outcome   Outcome   `json:"outcome"`
	ChannelID string    `json:"channel_id,omitempty"`
}

// Stats summarizes the delivery history.
type Stats struct {
	RecordCount        int `json:"record_count"`
	DistinctGrantCount int `json:"distinct_grant_count"`
}

// DeliveryStore is the permanent record of which grant was delivered to
// which recipient. A later successful delivery for a pair that already has
// one is a logical no-op for filtering purposes. Implementations must
// never be written to during a dry run; that guarantee belongs to the
// callers, and the store's truth only ever reflects confirmed deliveries.
type DeliveryStore interface {
	WasDelivered(grantID, recipient string) (bool, Outcome, error)
	RecordDelivery(grantID, recipient string, outcome Outcome, channelID string, at time.Time) error
	Stats() (Stats, error)
}
