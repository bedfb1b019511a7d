// Package kafka publishes risk alerts and consumes ground-sensor readings.
// Both directions are optional: when Kafka is disabled the service runs
// with a nil publisher and no consumer.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

// Publisher produces flood-risk alerts to the alert topic. Messages are
// keyed by location so per-location ordering is preserved across partitions.
type Publisher struct {
	writer  *kafkago.Writer
	minTier domain.Tier
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPublisher creates a Kafka producer for the configured alert topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaAlertTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, minTier: cfg.AlertMinTier, logger: logger, metrics: metrics}
}

// PublishAssessment emits an alert when the assessment's tier is at or above
// the configured minimum. Below-threshold assessments are a silent no-op. A
// nil Publisher never publishes.
func (p *Publisher) PublishAssessment(ctx context.Context, a domain.RiskAssessment) error {
	if p == nil {
		return nil
	}
	if !a.Tier.AtLeast(p.minTier) {
		return nil
	}

	msg, err := serializeAlert(a)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert for %s: %w", a.Location.Key(), err)
	}
	p.metrics.AlertsPublished.Inc()
	p.logger.Info("published risk alert",
		"location", a.Location.Key(),
		"tier", string(a.Tier),
		"risk_percentage", a.RiskPercentage,
	)
	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}

// alertPayload is the wire format of a risk alert.
type alertPayload struct {
	ID             string  `json:"id"`
	Location       string  `json:"location"`
	LocationKey    string  `json:"location_key"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	RiskPercentage float64 `json:"risk_percentage"`
	Tier           string  `json:"tier"`
	Confidence     float64 `json:"confidence"`
	ComputedAt     string  `json:"computed_at"`
	ValidUntil     string  `json:"valid_until"`
}

// serializeAlert marshals an assessment into a Kafka message keyed by
// location.
func serializeAlert(a domain.RiskAssessment) (kafkago.Message, error) {
	payload := alertPayload{
		ID:             a.ID,
		Location:       a.Location.Name,
		LocationKey:    a.Location.Key(),
		Latitude:       a.Location.Lat,
		Longitude:      a.Location.Lon,
		RiskPercentage: a.RiskPercentage,
		Tier:           string(a.Tier),
		Confidence:     a.Confidence,
		ComputedAt:     a.ComputedAt.Format(time.RFC3339),
		ValidUntil:     a.ValidUntil.Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(a.Location.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "risk_tier", Value: []byte(a.Tier)},
			{Key: "computed_at", Value: []byte(a.ComputedAt.Format(time.RFC3339))},
		},
	}, nil
}
