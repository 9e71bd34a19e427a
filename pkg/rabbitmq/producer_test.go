package rabbitmq

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

type recordingPublisher struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.exchange = exchange
	p.routingKey = routingKey
	p.body = body
	return nil
}

func (p *recordingPublisher) Close() {}

func TestPublishRevenueRecognized(t *testing.T) {
	rec := &recordingPublisher{}
	event := RevenueRecognizedEvent{
		PaymentID: uuid.New(),
		ArtistID:  uuid.New(),
		NetAmount: 5_500,
		Currency:  "UGX",
		Timestamp: time.Now().UTC(),
	}
	if err := PublishRevenueRecognized(context.Background(), rec, event); err != nil {
		t.Fatalf("PublishRevenueRecognized failed: %v", err)
	}
	if rec.exchange != EventsExchange {
		t.Errorf("published to exchange %q, want %q", rec.exchange, EventsExchange)
	}
	if rec.routingKey != "revenue.recognized" {
		t.Errorf("published with routing key %q, want revenue.recognized", rec.routingKey)
	}
	got, ok := rec.body.(RevenueRecognizedEvent)
	if !ok {
		t.Fatalf("published body has type %T, want RevenueRecognizedEvent", rec.body)
	}
	if got.PaymentID != event.PaymentID || got.NetAmount != event.NetAmount {
		t.Errorf("published body %+v does not match event %+v", got, event)
	}
}
