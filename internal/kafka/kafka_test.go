package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"checkout-dispatch/internal/message"
	"checkout-dispatch/internal/model"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func TestPublisher_Publish(t *testing.T) {
	writer := &fakeWriter{}
	event := message.NewOrderEvent("o1", model.EventPurchaseApproved, map[string]any{"source": "callback"})

	require.NoError(t, NewPublisher(writer).Publish(context.Background(), event))

	require.Len(t, writer.messages, 1)
	assert.Equal(t, "o1", string(writer.messages[0].Key))

	var decoded message.OrderEvent
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, model.EventPurchaseApproved, decoded.Event)
	assert.Equal(t, "callback", decoded.Extra["source"])
}

func TestPublisher_WriteError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("leader not available")}

	err := NewPublisher(writer).Publish(context.Background(), message.NewOrderEvent("o1", model.EventPixGenerated, nil))

	assert.ErrorContains(t, err, "leader not available")
}

// fakeReader hands out queued messages and then blocks until ctx is done.
type fakeReader struct {
	mu       sync.Mutex
	messages []kafka.Message
	errs     []error
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.messages) > 0 {
		m := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

type recordingProcessor struct {
	mu     sync.Mutex
	events []message.OrderEvent
	err    error
}

func (p *recordingProcessor) Process(_ context.Context, e message.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestReadOrderEvents(t *testing.T) {
	first, _ := json.Marshal(message.NewOrderEvent("o1", model.EventPixGenerated, nil))
	second, _ := json.Marshal(message.NewOrderEvent("o1", model.EventPurchaseApproved, nil))

	reader := &fakeReader{
		errs: []error{errors.New("broker unavailable")},
		messages: []kafka.Message{
			{Key: []byte("o1"), Value: first},
			{Key: []byte("o1"), Value: []byte("not json")},
			{Key: []byte("o1"), Value: second},
		},
	}
	processor := &recordingProcessor{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ReadOrderEvents(ctx, reader, processor, slog.Default())
		close(done)
	}()

	assert.Eventually(t, func() bool { return processor.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader did not stop after cancel")
	}

	assert.Equal(t, model.EventPixGenerated, processor.events[0].Event)
	assert.Equal(t, model.EventPurchaseApproved, processor.events[1].Event)
}
