package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"promotoken/internal/service/promotion/domain"
)

type memoryWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *memoryWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &memoryWriter{}
	p := NewKafkaPublisherWithWriter(w)

	err := p.Publish(context.Background(), domain.Event{
		Type:        domain.EventTokenIssued,
		PromoCodeID: 42,
		Code:        "FREELIST1",
		TokenPrefix: "abcdef01",
		Backend:     "durable",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "42" {
		t.Errorf("key = %q, want 42", w.msgs[0].Key)
	}

	var got domain.Event
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := uuid.Parse(got.ID); err != nil {
		t.Errorf("event id %q is not a uuid", got.ID)
	}
	if got.OccurredAt.IsZero() {
		t.Error("occurred_at should be filled in")
	}
	if got.Type != domain.EventTokenIssued || got.Code != "FREELIST1" || got.TokenPrefix != "abcdef01" {
		t.Errorf("unexpected event %+v", got)
	}
}

func TestKafkaPublisher_WriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewKafkaPublisherWithWriter(&memoryWriter{err: boom})
	if err := p.Publish(context.Background(), domain.Event{Type: domain.EventPromoCodeCreated}); !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped broker error", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close without closer: %v", err)
	}
}
