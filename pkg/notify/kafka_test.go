package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"stream-orchestrator/constant"
	"stream-orchestrator/dto"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	failures int
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("leader not available")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func notice(id uuid.UUID) dto.TransitionNotice {
	return dto.TransitionNotice{
		SessionID: id,
		From:      constant.SessionStatusLive,
		To:        constant.SessionStatusEnding,
		Event:     "provider_disconnected",
		Source:    "webhook",
		At:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaNotifierFlushesOnClose(t *testing.T) {
	w := &fakeWriter{failures: 1}
	n := newKafkaNotifier(w, "session-transitions", zerolog.Nop())

	id := uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, n.Notify(context.Background(), notice(id)))
	}
	require.NoError(t, n.Close())

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.True(t, w.closed)
	require.Len(t, w.messages, 3)
	assert.Equal(t, id.String(), string(w.messages[0].Key))

	var decoded dto.TransitionNotice
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &decoded))
	assert.Equal(t, constant.SessionStatusEnding, decoded.To)
}

func TestKafkaNotifierRejectsAfterClose(t *testing.T) {
	n := newKafkaNotifier(&fakeWriter{}, "t", zerolog.Nop())
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())

	assert.ErrorIs(t, n.Notify(context.Background(), notice(uuid.New())), ErrClosed)
}
