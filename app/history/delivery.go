package history

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scrapiens/scrapiens/app/store"
)

type deliveryDoc struct {
	Version int64                                `json:"version"`
	Grants  map[string]map[string]DeliveryRecord `json:"grants"`
}

// JSONDeliveryStore keeps the delivery history in a single JSON document
// keyed by grant URL, then recipient, replaced atomically on every write.
type JSONDeliveryStore struct {
	path          string
	doc           deliveryDoc
	loadedVersion int64
}

var _ DeliveryStore = (*JSONDeliveryStore)(nil)

// OpenDeliveries loads the delivery history at path. A missing file is an
// empty history; an unreadable one is a *store.CorruptError.
func OpenDeliveries(path string) (*JSONDeliveryStore, error) {
	s := &JSONDeliveryStore{
		path: path,
		doc:  deliveryDoc{Grants: make(map[string]map[string]DeliveryRecord)},
	}

	if err := store.Load(path, &s.doc); err != nil {
		if errors.Is(err, store.ErrNotExist) {
			slog.Info("Delivery history not found, starting fresh", "path", path)
			return s, nil
		}
		return nil, err
	}
	if s.doc.Grants == nil {
		s.doc.Grants = make(map[string]map[string]DeliveryRecord)
	}
	s.loadedVersion = s.doc.Version

	return s, nil
}

// WasDelivered looks up the authoritative record for a pair. Absence
// means the pair was never attempted.
func (s *JSONDeliveryStore) WasDelivered(grantID, recipient string) (bool, Outcome, error) {
	recipients, ok := s.doc.Grants[grantID]
	if !ok {
		return false, "", nil
	}
	rec, ok := recipients[recipient]
	if !ok {
		return false, "", nil
	}
	return true, rec.Outcome, nil
}

// RecordDelivery writes the outcome of a confirmed transport-level
// delivery attempt. A failed attempt never overwrites an earlier
// successful delivery, so the latest success stays authoritative.
func (s *JSONDeliveryStore) RecordDelivery(grantID, recipient string, outcome Outcome, channelID string, at time.Time) error {
	recipients, ok := s.doc.Grants[grantID]
	if !ok {
		recipients = make(map[string]DeliveryRecord)
		s.doc.Grants[grantID] = recipients
	}

	if existing, ok := recipients[recipient]; ok {
		if existing.Outcome == OutcomeDelivered && outcome == OutcomeFailed {
			slog.Debug("Keeping earlier successful delivery", "grant", grantID, "recipient", recipient)
			return nil
		}
	}

	recipients[recipient] = DeliveryRecord{
		SentAt:    at,
		Outcome:   outcome,
		ChannelID: channelID,
	}

	return s.save()
}

// Stats returns record and distinct grant counts.
func (s *JSONDeliveryStore) Stats() (Stats, error) {
	total := 0
	for _, recipients := range s.doc.Grants {
		total += len(recipients)
	}
	return Stats{RecordCount: total, DistinctGrantCount: len(s.doc.Grants)}, nil
}

func (s *JSONDeliveryStore) save() error {
	for attempt := 0; attempt < 2; attempt++ {
		current, err := store.Version(s.path)
		if err != nil {
			return err
		}
		if current != s.loadedVersion {
			slog.Warn("Delivery history changed underneath us, merging", "loaded", s.loadedVersion, "current", current)
			if err := s.reloadAndMerge(); err != nil {
				return err
			}
			continue
		}

		s.doc.Version = current + 1
		if err := store.Replace(s.path, s.doc); err != nil {
			return err
		}
		s.loadedVersion = s.doc.Version
		return nil
	}

	return fmt.Errorf("delivery history %s: %w", s.path, store.ErrWriteConflict)
}

// reloadAndMerge folds a concurrent writer's records into ours. A
// delivered outcome wins over a failed one for the same pair; between two
// records of equal standing the newer timestamp wins.
func (s *JSONDeliveryStore) reloadAndMerge() error {
	var disk deliveryDoc
	if err := store.Load(s.path, &disk); err != nil && !errors.Is(err, store.ErrNotExist) {
		return err
	}

	for grantID, recipients := range disk.Grants {
		ours, ok := s.doc.Grants[grantID]
		if !ok {
			s.doc.Grants[grantID] = recipients
			continue
		}
		for recipient, theirs := range recipients {
			mine, ok := ours[recipient]
			if !ok || supersedes(theirs, mine) {
				ours[recipient] = theirs
			}
		}
	}
	s.loadedVersion = disk.Version
	return nil
}

func supersedes(a, b DeliveryRecord) bool {
	if a.Outcome == OutcomeDelivered && b.Outcome != OutcomeDelivered {
		return true
	}
	if a.Outcome != OutcomeDelivered && b.Outcome == OutcomeDelivered {
		return false
	}
	return a.SentAt.After(b.SentAt)
}
