package history

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scrapiens/scrapiens/app/store"
)

type seenDoc struct {
	Version int64                `json:"version"`
	URLs    map[string]time.Time `json:"seen_urls"`
}

// SeenStore is the append-only record of every URL ever produced by the
// scrape stage, accumulated across all runs.
type SeenStore struct {
	path          string
	doc           seenDoc
	loadedVersion int64
	ignoreHistory bool
	degraded      bool
	now           func() time.Time
}

// OpenSeen loads the seen-URL store at path. With ignoreHistory set,
// FilterUnseen returns its input unfiltered while RecordSeen keeps
// accumulating. An unreadable store is reported as a *store.CorruptError;
// the caller chooses between aborting and OpenSeenDegraded.
func OpenSeen(path string, ignoreHistory bool) (*SeenStore, error) {
	s := &SeenStore{
		path:          path,
		doc:           seenDoc{URLs: make(map[string]time.Time)},
		ignoreHistory: ignoreHistory,
		now:           time.Now,
	}

	if err := store.Load(path, &s.doc); err != nil {
		if errors.Is(err, store.ErrNotExist) {
			slog.Info("Seen-URL store not found, starting fresh", "path", path)
			return s, nil
		}
		return nil, err
	}
	if s.doc.URLs == nil {
		s.doc.URLs = make(map[string]time.Time)
	}
	s.loadedVersion = s.doc.Version

	slog.Debug("Loaded seen-URL store", "path", path, "urls", len(s.doc.URLs))
	return s, nil
}

// OpenSeenDegraded returns a store that treats every URL as unseen and
// refuses to write, so a corrupt history file is never clobbered with a
// fabricated partial one.
func OpenSeenDegraded(path string) *SeenStore {
	return &SeenStore{
		path:     path,
		doc:      seenDoc{URLs: make(map[string]time.Time)},
		degraded: true,
		now:      time.Now,
	}
}

// FilterUnseen returns the subset of urls not present in the store plus
// the count that was filtered out. It does not mutate the store; calling
// it twice without an intervening RecordSeen yields identical results.
func (s *SeenStore) FilterUnseen(urls []string) ([]string, int) {
	if s.ignoreHistory || s.degraded {
		return append([]string(nil), urls...), 0
	}

	unseen := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := s.doc.URLs[u]; !ok {
			unseen = append(unseen, u)
		}
	}
	return unseen, len(urls) - len(unseen)
}

// RecordSeen adds urls to the permanent set with a first-seen timestamp.
// Already present URLs keep their original timestamp.
func (s *SeenStore) RecordSeen(urls []string) error {
	if s.degraded {
		slog.Warn("Seen-URL store is degraded, not recording", "urls", len(urls))
		return nil
	}

	ts := s.now()
	added := 0
	for _, u := range urls {
		if _, ok := s.doc.URLs[u]; !ok {
			s.doc.URLs[u] = ts
			added++
		}
	}
	if added == 0 {
		return nil
	}

	if err := s.save(); err != nil {
		return err
	}
	slog.Info("Recorded new seen URLs", "added", added, "total", len(s.doc.URLs))
	return nil
}

// Count returns the number of URLs in the store.
func (s *SeenStore) Count() int {
	return len(s.doc.URLs)
}

// save writes the store back with optimistic version checking, merging
// with a concurrent writer once before giving up.
func (s *SeenStore) save() error {
	for attempt := 0; attempt < 2; attempt++ {
		current, err := store.Version(s.path)
		if err != nil {
			return err
		}
		if current != s.loadedVersion {
			slog.Warn("Seen-URL store changed underneath us, merging", "loaded", s.loadedVersion, "current", current)
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

	return fmt.Errorf("seen-URL store %s: %w", s.path, store.ErrWriteConflict)
}

func (s *SeenStore) reloadAndMerge() error {
	var disk seenDoc
	if err := store.Load(s.path, &disk); err != nil && !errors.Is(err, store.ErrNotExist) {
		return err
	}
	for u, ts := range disk.URLs {
		if _, ok := s.doc.URLs[u]; !ok {
			s.doc.URLs[u] = ts
		}
	}
	s.loadedVersion = disk.Version
	return nil
}
