package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/timeclock/internal/events"
)

func testMessage(t *testing.T, id int64, userID, eventType string) Message {
	t.Helper()
	payload, err := json.Marshal(events.WorkSessionChanged{
		SessionID:  "session-1",
		UserID:     userID,
		EventType:  eventType,
		Status:     "working",
		StartTime:  time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC),
		OccurredAt: time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC),
		Version:    "v1",
	})
	require.NoError(t, err)
	return Message{
		EventID:       id,
		UserID:        userID,
		AggregateType: "work_session",
		AggregateID:   "session-1",
		EventType:     eventType,
		Topic:         "work_session_events",
		SchemaSubject: "work_session_events-value",
		PartitionKey:  userID,
		Payload:       payload,
	}
}

func TestDeliverFramesAndBatchesByTopic(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	d := NewDispatcher(nil, producer, registry, time.Second, 10)

	msgs := []Message{
		testMessage(t, 1, "user-1", "work_session.started"),
		testMessage(t, 2, "user-1", "work_session.paused"),
	}
	require.NoError(t, d.deliver(context.Background(), msgs))

	require.Len(t, producer.writes, 1)
	batch := producer.writes[0]
	require.Equal(t, "work_session_events", batch.topic)
	require.Len(t, batch.messages, 2)

	first := batch.messages[0]
	require.Equal(t, []byte("user-1"), first.Key)
	require.Equal(t, byte(0), first.Value[0])
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(first.Value[1:5]))
	require.JSONEq(t, string(msgs[0].Payload), string(first.Value[5:]))
	require.Equal(t, "work_session.started", string(first.Headers[0].Value))
	require.Equal(t, "user_id", first.Headers[1].Key)
	require.Equal(t, "user-1", string(first.Headers[1].Value))

	require.Len(t, registry.calls, 1, "schema ids are cached per subject and schema")
	require.Equal(t, "work_session_events-value", registry.calls[0].subject)
}

func TestDeliverRejectsUnknownEventType(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{}
	d := NewDispatcher(nil, producer, registry, time.Second, 10)

	err := d.deliver(context.Background(), []Message{testMessage(t, 1, "user-1", "work_session.exploded")})
	require.ErrorContains(t, err, "no schema metadata for event_type=work_session.exploded")
	require.Empty(t, producer.writes)
	require.Empty(t, registry.calls)
}

func TestDeliverPropagatesFailures(t *testing.T) {
	d := NewDispatcher(nil, &stubProducer{}, &stubRegistry{err: errors.New("registry down")}, time.Second, 10)
	require.ErrorContains(t, d.deliver(context.Background(), []Message{testMessage(t, 1, "u", "work_session.ended")}), "registry down")

	d = NewDispatcher(nil, &stubProducer{err: errors.New("broker down")}, &stubRegistry{}, time.Second, 10)
	require.ErrorContains(t, d.deliver(context.Background(), []Message{testMessage(t, 1, "u", "work_session.ended")}), "broker down")
}

func TestEncodeWireFormat(t *testing.T) {
	frame := encodeWireFormat(7, []byte(`{}`))
	require.Equal(t, []byte{0, 0, 0, 0, 7, '{', '}'}, frame)
}
