package send

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scrapiens/scrapiens/app/digest"
	"github.com/scrapiens/scrapiens/app/store"
)

// Message is one recipient's digest handed to the transport.
type Message struct {
	Recipient   string                 `json:"recipient"`
	DisplayName string                 `json:"display_name"`
	Subject     string                 `json:"subject"`
	Digest      digest.RecipientDigest `json:"digest"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Sender is the transport collaborator. SMTP lives outside this core;
// implementations return a channel identifier (e.g. a message id) on
// confirmed delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// OutboxSender writes each message as a JSON file into an outbox
// directory and reports it delivered. It is the default transport for
// local operation and for handing off to an external mailer process.
type OutboxSender struct {
	dir string
	now func() time.Time
}

var _ Sender = (*OutboxSender)(nil)

func NewOutboxSender(dir string) *OutboxSender {
	return &OutboxSender{dir: dir, now: time.Now}
}

func (s *OutboxSender) Send(_ context.Context, msg Message) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create outbox: %w", err)
	}

	id := fmt.Sprintf("outbox_%s_%s", s.now().Format("20060102_150405"), sanitize(msg.Recipient))
	path := filepath.Join(s.dir, id+".json")
	if err := store.Replace(path, msg); err != nil {
		return "", fmt.Errorf("failed to write outbox message: %w", err)
	}

	return id, nil
}

func sanitize(recipient string) string {
	out := make([]rune, 0, len(recipient))
	for _, r := range recipient {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
