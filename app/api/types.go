package api

import (
	"github.com/scrapiens/scrapiens/app/history"
	"github.com/scrapiens/scrapiens/app/runs"
)

// RunLister is the slice of the run manager the API needs.
type RunLister interface {
	List() ([]runs.Status, error)
	Status(run runs.Run) (runs.Status, error)
}

var _ RunLister = (*runs.Manager)(nil)

type Handler struct {
	runs       RunLister
	deliveries history.DeliveryStore
	dataDir    string
	seenPath   string
	port       string
}
