package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	p.exchange = exchange
	p.key = key
	p.msg = msg
	return nil
}

func TestAMQPGatewayPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	gw := newAMQPGateway(pub, "notifications")
	userID := uuid.New()

	err := gw.Notify(context.Background(), userID, KindAppointmentCancelled, map[string]any{"date": "2025-01-10"})
	require.NoError(t, err)

	assert.Equal(t, "notifications", pub.exchange)
	assert.Equal(t, "notify.appointment.cancelled", pub.key)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.Equal(t, amqp.Persistent, pub.msg.DeliveryMode)

	var got Message
	require.NoError(t, json.Unmarshal(pub.msg.Body, &got))
	assert.Equal(t, userID, got.UserID)
	assert.Equal(t, KindAppointmentCancelled, got.Kind)
	assert.Equal(t, "2025-01-10", got.Payload["date"])
	assert.Equal(t, got.ID, pub.msg.MessageId)
}

func TestAMQPGatewayCloseWithoutConnection(t *testing.T) {
	var gw *AMQPGateway
	assert.NoError(t, gw.Close())
	assert.NoError(t, newAMQPGateway(&fakePublisher{}, "x").Close())
}

func TestRedisGatewayPublishesToUserChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	userID := uuid.New()
	ctx := context.Background()
	sub := client.Subscribe(ctx, UserChannel(userID))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	gw := NewRedisGateway(client)
	require.NoError(t, gw.Notify(ctx, userID, KindAppointmentBooked, map[string]any{"slot_id": "0900"}))

	select {
	case m := <-sub.Channel():
		var got Message
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &got))
		assert.Equal(t, KindAppointmentBooked, got.Kind)
		assert.Equal(t, "0900", got.Payload["slot_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no notification published")
	}
}

func TestLogGatewayNeverFails(t *testing.T) {
	gw := NewLogGateway(zerolog.Nop())
	assert.NoError(t, gw.Notify(context.Background(), uuid.New(), KindAppointmentNoShow, nil))
}
