// Package kafka publishes completed assessments to a Kafka results topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/quake-loss-estimator/internal/config"
	"github.com/couchcryptid/quake-loss-estimator/internal/pipeline"
)

// Message kinds, carried in the "kind" header.
const (
	KindUnit    = "unit_loss"
	KindSummary = "run_summary"
)

// UnitMessage is the value of one per-unit result message.
type UnitMessage struct {
	RunID     string  `json:"run_id"`
	Unit      string  `json:"unit"`
	Loss      float64 `json:"loss"`
	Level     string  `json:"level"`
	Place     string  `json:"place,omitempty"`
	Longitude float64 `json:"lon,omitempty"`
	Latitude  float64 `json:"lat,omitempty"`
}

// SummaryMessage is the value of the per-run summary message.
type SummaryMessage struct {
	RunID           string    `json:"run_id"`
	CreatedAt       time.Time `json:"created_at"`
	RhoB            float64   `json:"rho_b"`
	RhoEB           float64   `json:"rho_eb"`
	TotalLoss       float64   `json:"total_loss"`
	DirectLoss      float64   `json:"direct_loss"`
	Units           int       `json:"units"`
	BuildingsInput  int       `json:"buildings_input"`
	BuildingsJoined int       `json:"buildings_joined"`
	Q25             float64   `json:"q25"`
	Q50             float64   `json:"q50"`
	Q75             float64   `json:"q75"`
}

const (
	maxAttempts    = 3
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes assessment results to the results topic.
// It implements pipeline.Publisher.
type Publisher struct {
	writer  messageWriter
	backoff time.Duration
	logger  *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured results topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, backoff: initialBackoff, logger: logger}
}

// Publish writes one message per assessment unit followed by the run summary,
// in a single WriteMessages call retried with exponential backoff.
func (p *Publisher) Publish(ctx context.Context, a *pipeline.Assessment) error {
	msgs, err := serializeAssessment(a)
	if err != nil {
		return err
	}

	backoff := p.backoff
	for attempt := 1; ; attempt++ {
		err = p.writer.WriteMessages(ctx, msgs...)
		if err == nil {
			break
		}
		if attempt == maxAttempts {
			return fmt.Errorf("write results after %d attempts: %w", attempt, err)
		}
		p.logger.Warn("write results failed, retrying", "run_id", a.ID, "attempt", attempt, "backoff", backoff, "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			return fmt.Errorf("write results: %w", ctx.Err())
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}

	p.logger.Debug("results published", "run_id", a.ID, "messages", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeAssessment builds the messages for a run. Unit messages are keyed
// by unit code so results for the same unit land on the same partition.
func serializeAssessment(a *pipeline.Assessment) ([]kafkago.Message, error) {
	computedAt := []byte(a.CreatedAt.UTC().Format(time.RFC3339))
	msgs := make([]kafkago.Message, 0, len(a.Summary.Units)+1)

	mapped := make(map[string]int, len(a.Units))
	for i, u := range a.Units {
		mapped[u.Code] = i
	}

	for _, ul := range a.Summary.Units {
		m := UnitMessage{
			RunID: a.ID,
			Unit:  ul.Code,
			Loss:  ul.Loss,
			Level: a.Classifier.Classify(ul.Loss).String(),
		}
		if i, ok := mapped[ul.Code]; ok {
			u := a.Units[i]
			m.Place = u.PlaceName
			if len(u.Centroid) >= 2 {
				m.Longitude, m.Latitude = u.Centroid[0], u.Centroid[1]
			}
		}
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("serialize unit %s: %w", ul.Code, err)
		}
		msgs = append(msgs, newMessage(ul.Code, data, KindUnit, a.ID, computedAt))
	}

	s := a.Summary
	data, err := json.Marshal(SummaryMessage{
		RunID:           a.ID,
		CreatedAt:       a.CreatedAt.UTC(),
		RhoB:            s.Coefficients.RhoB,
		RhoEB:           s.Coefficients.RhoEB,
		TotalLoss:       s.TotalLoss,
		DirectLoss:      s.DirectLoss,
		Units:           len(s.Units),
		BuildingsInput:  s.Stats.Input,
		BuildingsJoined: s.Stats.Joined,
		Q25:             a.Classifier.Q25,
		Q50:             a.Classifier.Q50,
		Q75:             a.Classifier.Q75,
	})
	if err != nil {
		return nil, fmt.Errorf("serialize run summary: %w", err)
	}
	msgs = append(msgs, newMessage(a.ID, data, KindSummary, a.ID, computedAt))
	return msgs, nil
}

func newMessage(key string, value []byte, kind, runID string, computedAt []byte) kafkago.Message {
	return kafkago.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(runID)},
			{Key: "kind", Value: []byte(kind)},
			{Key: "computed_at", Value: computedAt},
		},
	}
}
