package send

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scrapiens/scrapiens/app/digest"
	"github.com/scrapiens/scrapiens/app/filter"
	"github.com/scrapiens/scrapiens/app/history"
)

type fakeSender struct {
	sent    []Message
	failFor string
}

func (f *fakeSender) Send(_ context.Context, msg Message) (string, error) {
	if msg.Recipient == f.failFor {
		return "", errors.New("smtp timeout")
	}
	f.sent = append(f.sent, msg)
	return "msg-" + msg.Recipient, nil
}

type recordedDelivery struct {
	grantID   string
	recipient string
	outcome   history.Outcome
	channelID string
}

type fakeDeliveryStore struct {
	records []recordedDelivery
}

func (f *fakeDeliveryStore) WasDelivered(string, string) (bool, history.Outcome, error) {
	return false, "", nil
}

func (f *fakeDeliveryStore) RecordDelivery(grantID, recipient string, outcome history.Outcome, channelID string, _ time.Time) error {
	f.records = append(f.records, recordedDelivery{grantID, recipient, outcome, channelID})
	return nil
}

func (f *fakeDeliveryStore) Stats() (history.Stats, error) {
	return history.Stats{RecordCount: len(f.records)}, nil
}

func testDigest() *digest.Digest {
	return &digest.Digest{
		RunDate: "20260830",
		Recipients: []digest.RecipientDigest{
			{
				Email:       "a@x.com",
				DisplayName: "A",
				Grants: []filter.Candidate{
					{GrantID: "https://grants.test/g1", Title: "Grant One"},
					{GrantID: "https://grants.test/g2", Title: "Grant Two"},
				},
			},
			{
				Email:       "b@x.com",
				DisplayName: "B",
				Grants: []filter.Candidate{
					{GrantID: "https://grants.test/g1", Title: "Grant One"},
				},
			},
		},
		TotalGrants: 3,
	}
}

func TestDispatchRecordsConfirmedDeliveries(t *testing.T) {
	sender := &fakeSender{}
	deliveries := &fakeDeliveryStore{}
	dispatcher := NewDispatcher(sender, deliveries, false)

	report, err := dispatcher.Dispatch(context.Background(), testDigest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Delivered != 2 || report.Failed != 0 {
		t.Errorf("expected 2 delivered 0 failed, got %d/%d", report.Delivered, report.Failed)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(sender.sent))
	}
	if len(deliveries.records) != 3 {
		t.Fatalf("expected 3 delivery records, got %d", len(deliveries.records))
	}
	for _, rec := range deliveries.records {
		if rec.outcome != history.OutcomeDelivered {
			t.Errorf("expected delivered outcome for %s/%s, got %q", rec.grantID, rec.recipient, rec.outcome)
		}
	}
	if deliveries.records[0].channelID != "msg-a@x.com" {
		t.Errorf("expected channel id from sender, got %q", deliveries.records[0].channelID)
	}
}

func TestDispatchOneFailureDoesNotStopOthers(t *testing.T) {
	sender := &fakeSender{failFor: "a@x.com"}
	deliveries := &fakeDeliveryStore{}
	dispatcher := NewDispatcher(sender, deliveries, false)

	report, err := dispatcher.Dispatch(context.Background(), testDigest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Delivered != 1 || report.Failed != 1 {
		t.Errorf("expected 1 delivered 1 failed, got %d/%d", report.Delivered, report.Failed)
	}

	failed := 0
	delivered := 0
	for _, rec := range deliveries.records {
		switch rec.outcome {
		case history.OutcomeFailed:
			failed++
			if rec.recipient != "a@x.com" {
				t.Errorf("unexpected failed recipient %q", rec.recipient)
			}
		case history.OutcomeDelivered:
			delivered++
		}
	}
	if failed != 2 || delivered != 1 {
		t.Errorf("expected 2 failed and 1 delivered records, got %d/%d", failed, delivered)
	}
}

func TestDispatchDryRunTouchesNothing(t *testing.T) {
	sender := &fakeSender{}
	deliveries := &fakeDeliveryStore{}
	dispatcher := NewDispatcher(sender, deliveries, true)

	report, err := dispatcher.Dispatch(context.Background(), testDigest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !report.DryRun {
		t.Error("expected dry-run report")
	}
	if report.Recipients != 2 {
		t.Errorf("expected 2 recipients in report, got %d", report.Recipients)
	}
	if report.Delivered != 0 || report.Failed != 0 {
		t.Errorf("expected no attempts, got %d/%d", report.Delivered, report.Failed)
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no messages sent, got %d", len(sender.sent))
	}
	if len(deliveries.records) != 0 {
		t.Errorf("expected no delivery records, got %d", len(deliveries.records))
	}
}

func TestOutboxSenderWritesMessage(t *testing.T) {
	dir := t.TempDir()
	sender := NewOutboxSender(dir)
	sender.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }

	id, err := sender.Send(context.Background(), Message{Recipient: "a@x.com", Subject: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "outbox_20260830_120000_a_x_com" {
		t.Errorf("unexpected message id %q", id)
	}
}
