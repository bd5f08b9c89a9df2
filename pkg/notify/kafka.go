// Package notify publishes session status transitions to Kafka so other
// services can react to sessions going live or finishing.
package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"stream-orchestrator/dto"
)

const (
	BatchInterval  = 1 * time.Second
	RequestTimeout = 30 * time.Second
	BatchSize      = 100
	ChannelSize    = 256
	writeRetries   = 3
)

var ErrClosed = errors.New("notifier closed")

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	Username string
	Password string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier batches transition notices and writes them in the
// background. Notify never blocks on the broker; when the buffer is full the
// notice is dropped and an error returned.
type KafkaNotifier struct {
	writer  messageWriter
	topic   string
	events  chan kafka.Message
	logger  zerolog.Logger
	done    chan struct{}
	closing sync.Once
	wg      sync.WaitGroup
}

func NewKafkaNotifier(cfg KafkaConfig, logger zerolog.Logger) *KafkaNotifier {
	dialer := &kafka.Dialer{
		Timeout:   RequestTimeout,
		DualStack: true,
	}
	if cfg.Username != "" && cfg.Password != "" {
		dialer.SASLMechanism = plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		Balancer: kafka.CRC32Balancer{},
		Dialer:   dialer,
	})
	return newKafkaNotifier(writer, cfg.Topic, logger)
}

func newKafkaNotifier(writer messageWriter, topic string, logger zerolog.Logger) *KafkaNotifier {
	n := &KafkaNotifier{
		writer: writer,
		topic:  topic,
		events: make(chan kafka.Message, ChannelSize),
		logger: logger.With().Str("component", "notify").Str("topic", topic).Logger(),
		done:   make(chan struct{}),
	}
	n.wg.Add(1)
	go n.processEvents()
	return n
}

func (n *KafkaNotifier) Notify(ctx context.Context, notice dto.TransitionNotice) error {
	value, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(notice.SessionID.String()),
		Value: value,
		Time:  notice.At,
	}
	select {
	case <-n.done:
		return ErrClosed
	default:
	}
	select {
	case n.events <- msg:
		return nil
	default:
		return errors.New("notification buffer full")
	}
}

// Close flushes buffered notices and closes the writer.
func (n *KafkaNotifier) Close() error {
	n.closing.Do(func() { close(n.done) })
	n.wg.Wait()
	return n.writer.Close()
}

func (n *KafkaNotifier) processEvents() {
	defer n.wg.Done()
	ticker := time.NewTicker(BatchInterval)
	defer ticker.Stop()

	var batch []kafka.Message
	for {
		select {
		case msg := <-n.events:
			batch = append(batch, msg)
			if len(batch) >= BatchSize {
				n.sendBatch(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				n.sendBatch(batch)
				batch = nil
			}
		case <-n.done:
			for {
				select {
				case msg := <-n.events:
					batch = append(batch, msg)
				default:
					if len(batch) > 0 {
						n.sendBatch(batch)
					}
					return
				}
			}
		}
	}
}

func (n *KafkaNotifier) sendBatch(batch []kafka.Message) {
	var err error
	for i := 0; i < writeRetries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
		err = n.writer.WriteMessages(ctx, batch...)
		cancel()
		if err == nil {
			return
		}
		n.logger.Warn().Err(err).Int("try", i).Msg("failed to send transition batch, retrying")
	}
	n.logger.Error().Err(err).Int("dropped", len(batch)).Msg("failed to send transition batch, notices are lost")
}

// Nop discards notices; used when no brokers are configured.
type Nop struct{}

func (Nop) Notify(context.Context, dto.TransitionNotice) error { return nil }
func (Nop) Close() error                                       { return nil }
