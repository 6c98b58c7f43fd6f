// Package telemetry decorates a persistence.SessionStore with best-effort
// fanout of completed SessionTraces: a Kafka event per session completion
// for downstream analytics consumers, and a ClickHouse row per critique
// attempt for offline evaluation analysis. SaveTrace commits the trace to
// the wrapped store first; the Kafka write is asynchronous, while the
// ClickHouse insert runs inline before SaveTrace returns. Fanout failures
// are logged, not returned to the caller.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"agenticrag/internal/persistence"
	"agenticrag/internal/sessiontypes"
)

// KafkaPublisher wraps a persistence.SessionStore, publishing a
// trace-completion event to a Kafka topic after every successful SaveTrace,
// and (when chSink is non-nil) recording the trace's critique history into
// ClickHouse for offline evaluation analysis.
type KafkaPublisher struct {
	persistence.SessionStore
	writer *kafka.Writer
	chSink *ClickHouseSink
}

// traceCompletionEvent is the wire shape published to the session-trace
// topic; kept separate from sessiontypes.SessionTrace so the topic schema
// doesn't break every time the in-process trace struct grows a field.
type traceCompletionEvent struct {
	SessionID      string    `json:"sessionId"`
	Mode           string    `json:"mode"`
	StartedAt      time.Time `json:"startedAt"`
	CompletedAt    time.Time `json:"completedAt"`
	RouteProfile   string    `json:"routeProfile"`
	CritiqueRounds int       `json:"critiqueRounds"`
	Error          string    `json:"error,omitempty"`
}

// NewKafkaPublisher builds a publisher against brokers/topic. The writer
// uses the default leastbytes balancer and async acknowledgement, since
// trace events are fire-and-forget analytics, not a source of truth.
func NewKafkaPublisher(next persistence.SessionStore, brokers []string, topic string, chSink *ClickHouseSink) *KafkaPublisher {
	return &KafkaPublisher{
		SessionStore: next,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			Async:        true,
			BatchTimeout: 100 * time.Millisecond,
		},
		chSink: chSink,
	}
}

// SaveTrace commits the trace to the wrapped store, then publishes a
// completion event. A publish failure is logged, not returned: the trace
// is already durably saved by the time fanout runs.
func (k *KafkaPublisher) SaveTrace(ctx context.Context, trace sessiontypes.SessionTrace) error {
	if err := k.SessionStore.SaveTrace(ctx, trace); err != nil {
		return err
	}

	event := traceCompletionEvent{
		SessionID:      trace.SessionID,
		Mode:           string(trace.Mode),
		StartedAt:      trace.StartedAt,
		CompletedAt:    trace.CompletedAt,
		RouteProfile:   string(trace.Route.Profile),
		CritiqueRounds: len(trace.CritiqueHistory),
		Error:          trace.Error,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("sessionId", trace.SessionID).Msg("marshal trace completion event")
		return nil
	}

	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(trace.SessionID), Value: payload}); err != nil {
		log.Warn().Err(err).Str("sessionId", trace.SessionID).Msg("publish trace completion event")
	}

	k.chSink.RecordCritiqueHistory(ctx, trace.SessionID, trace.CritiqueHistory)
	return nil
}

// Close releases the underlying Kafka writer and ClickHouse connection.
func (k *KafkaPublisher) Close() error {
	err := k.writer.Close()
	if chErr := k.chSink.Close(); chErr != nil && err == nil {
		err = chErr
	}
	return err
}
