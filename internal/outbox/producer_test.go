package outbox

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestProducerHashesOnUserKey(t *testing.T) {
	p := NewKafkaProducer([]string{"kafka-1:9092"})
	t.Cleanup(func() { _ = p.Close() })

	require.IsType(t, &kafka.Hash{}, p.writer.Balancer)
	require.Empty(t, p.writer.Topic, "records carry their own topic")
	require.Equal(t, lifecycleBatchTimeout, p.writer.BatchTimeout)
}

func TestAddressedStampsTopicWithoutMutatingInput(t *testing.T) {
	msgs := []kafka.Message{
		{Key: []byte("user-1"), Value: []byte("a")},
		{Key: []byte("user-2"), Value: []byte("b"), Topic: "stale"},
	}

	out := addressed("work_session_events", msgs)
	require.Len(t, out, 2)
	for i, msg := range out {
		require.Equal(t, "work_session_events", msg.Topic)
		require.Equal(t, msgs[i].Key, msg.Key)
	}
	require.Empty(t, msgs[0].Topic)
	require.Equal(t, "stale", msgs[1].Topic)
}
