package api

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scrapiens/scrapiens/app/filter"
	"github.com/scrapiens/scrapiens/app/history"
	"github.com/scrapiens/scrapiens/app/runs"
	"github.com/scrapiens/scrapiens/app/store"
)

func NewHandler(runLister RunLister, deliveries history.DeliveryStore, dataDir, port string) *Handler {
	return &Handler{
		runs:       runLister,
		deliveries: deliveries,
		dataDir:    dataDir,
		seenPath:   filepath.Join(dataDir, "history", "seen_urls.json"),
		port:       port,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if statuses, err := h.runs.List(); err == nil {
		health["runs"] = len(statuses)
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := map[string]interface{}{}

	delivery, err := h.deliveries.Stats()
	if err != nil {
		slog.Error("Delivery stats error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Delivery history error"})
		return
	}
	stats["deliveries"] = map[string]interface{}{
		"records":         delivery.RecordCount,
		"distinct_grants": delivery.DistinctGrantCount,
	}

	if seen, err := history.OpenSeen(h.seenPath, false); err == nil {
		stats["seen_urls"] = seen.Count()
	} else {
		slog.Error("Seen-URL store error", "error", err)
		stats["seen_urls_error"] = "unavailable"
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ListRuns(c *gin.Context) {
	statuses, err := h.runs.List()
	if err != nil {
		slog.Error("Run index error", "operation", "list_runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Run index error"})
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  statuses,
		"total": len(statuses),
	})
}

func (h *Handler) GetRun(c *gin.Context) {
	date := c.Param("date")
	if date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing run date parameter"})
		return
	}

	status, err := h.runs.Status(runs.Run{Date: date})
	if err != nil {
		slog.Error("Run lookup failed", "date", date, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	c.JSON(http.StatusOK, status)
}

// GetFilterReport serves the filter report of a run. Without an explicit
// date the most recent run that has one wins.
func (h *Handler) GetFilterReport(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		statuses, err := h.runs.List()
		if err != nil {
			slog.Error("Run index error", "operation", "get_report", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Run index error"})
			return
		}
		for _, s := range statuses {
			if report, err := h.loadReport(s.Date); err == nil {
				c.JSON(http.StatusOK, gin.H{"date": s.Date, "report": report})
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "No filter report found in any run"})
		return
	}

	report, err := h.loadReport(date)
	if err != nil {
		if errors.Is(err, store.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No filter report for run"})
			return
		}
		slog.Error("Filter report error", "date", date, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Filter report error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"date": date, "report": report})
}

func (h *Handler) loadReport(date string) (*filter.Report, error) {
	path := filepath.Join(h.dataDir, "runs", date, "05_match_keywords", "report.json")
	var report filter.Report
	if err := store.Load(path, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
