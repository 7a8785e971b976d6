package send

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scrapiens/scrapiens/app/digest"
	"github.com/scrapiens/scrapiens/app/history"
)

// Report summarizes one send invocation.
type Report struct {
	Recipients int  `json:"recipients"`
	Delivered  int  `json:"delivered"`
	Failed     int  `json:"failed"`
	DryRun     bool `json:"dry_run"`
}

// Dispatcher walks a digest, hands each recipient's entry to the
// transport and records confirmed outcomes in the delivery history. In
// dry-run mode neither the transport nor the history is touched; the
// history only ever reflects real transport-level results.
type Dispatcher struct {
	sender     Sender
	deliveries history.DeliveryStore
	dryRun     bool
	now        func() time.Time
}

func NewDispatcher(sender Sender, deliveries history.DeliveryStore, dryRun bool) *Dispatcher {
	return &Dispatcher{
		sender:     sender,
		deliveries: deliveries,
		dryRun:     dryRun,
		now:        time.Now,
	}
}

// Dispatch sends every recipient digest. One failing recipient does not
// stop the others; failures are recorded and counted.
func (d *Dispatcher) Dispatch(ctx context.Context, dg *digest.Digest) (Report, error) {
	report := Report{Recipients: len(dg.Recipients), DryRun: d.dryRun}

	for _, rd := range dg.Recipients {
		msg := Message{
			Recipient:   rd.Email,
			DisplayName: rd.DisplayName,
			Subject:     fmt.Sprintf("Funding digest: %d new grants", len(rd.Grants)),
			Digest:      rd,
			CreatedAt:   d.now(),
		}

		if d.dryRun {
			slog.Info("Dry run, skipping send", "recipient", rd.Email, "grants", len(rd.Grants))
			continue
		}

		channelID, err := d.sender.Send(ctx, msg)
		if err != nil {
			slog.Error("Send failed", "recipient", rd.Email, "error", err)
			report.Failed++
			if recordErr := d.recordAll(rd, history.OutcomeFailed, channelID); recordErr != nil {
				return report, recordErr
			}
			continue
		}

		slog.Info("Digest delivered", "recipient", rd.Email, "grants", len(rd.Grants), "channel_id", channelID)
		report.Delivered++
		if err := d.recordAll(rd, history.OutcomeDelivered, channelID); err != nil {
			return report, err
		}
	}

	return report, nil
}

func (d *Dispatcher) recordAll(rd digest.RecipientDigest, outcome history.Outcome, channelID string) error {
	at := d.now()
	for _, grant := range rd.Grants {
		if err := d.deliveries.RecordDelivery(grant.GrantID, rd.Email, outcome, channelID, at); err != nil {
			return fmt.Errorf("failed to record delivery of %s to %s: %w", grant.GrantID, rd.Email, err)
		}
	}
	return nil
}
