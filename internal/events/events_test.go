package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestKafkaPublisherPrefixesTopicAndKeysByOwner(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaPublisher{writer: w, prefix: "prod."}

	err := p.Publish(context.Background(), TopicSaleRecorded, "own-a", map[string]any{"id": "sal-1", "quantity": 3})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	require.Equal(t, "prod.ledger.sale.recorded", msg.Topic)
	require.Equal(t, "own-a", string(msg.Key))

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	require.Equal(t, "sal-1", body["id"])
}

func TestKafkaPublisherWrapsWriteErrors(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &captureWriter{err: boom}}

	err := p.Publish(context.Background(), TopicDueAdded, "own-a", struct{}{})
	require.ErrorIs(t, err, boom)
}

func TestKafkaPublisherRejectsUnencodablePayload(t *testing.T) {
	p := &KafkaPublisher{writer: &captureWriter{}}

	err := p.Publish(context.Background(), TopicDueAdded, "own-a", make(chan int))
	require.Error(t, err)
}
