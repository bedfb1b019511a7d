package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/store"
)

// Invalidator drops cached risk entries for a location after its sensor
// state changes.
type Invalidator interface {
	InvalidateLocation(locationKey string)
}

// SensorConsumer reads ground-sensor snapshots from the sensor topic and
// stores the latest reading per location. Malformed messages are logged and
// skipped; the consumer never stalls on bad input.
type SensorConsumer struct {
	reader *kafkago.Reader
	store  store.SensorStore
	cache  Invalidator
	logger *slog.Logger
}

// NewSensorConsumer creates a consumer in the service's consumer group.
func NewSensorConsumer(cfg *config.Config, sensors store.SensorStore, cache Invalidator, logger *slog.Logger) *SensorConsumer {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaSensorTopic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	return &SensorConsumer{reader: r, store: sensors, cache: cache, logger: logger}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation and
// the underlying error otherwise.
func (c *SensorConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("fetch sensor message: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			c.logger.Warn("dropping sensor message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("commit sensor message: %w", err)
		}
	}
}

func (c *SensorConsumer) handle(ctx context.Context, msg kafkago.Message) error {
	snap, err := parseSensorReading(msg)
	if err != nil {
		return err
	}
	if err := c.store.PutSnapshot(ctx, snap); err != nil {
		return err
	}
	if c.cache != nil {
		c.cache.InvalidateLocation(snap.LocationKey)
	}
	c.logger.Debug("stored sensor snapshot", "location", snap.LocationKey)
	return nil
}

func (c *SensorConsumer) Close() error {
	return c.reader.Close()
}

// sensorReading is the wire format of a ground-sensor message.
type sensorReading struct {
	Location        string   `json:"location"`
	SoilMoisturePct *float64 `json:"soil_moisture_pct"`
	RiverLevelM     *float64 `json:"river_level_m"`
	RainfallMm      *float64 `json:"rainfall_mm"`
	RecordedAt      string   `json:"recorded_at"`
}

// parseSensorReading maps a Kafka message onto a sensor snapshot. The
// message timestamp is used when the payload omits recorded_at.
func parseSensorReading(msg kafkago.Message) (domain.SensorSnapshot, error) {
	var reading sensorReading
	if err := json.Unmarshal(msg.Value, &reading); err != nil {
		return domain.SensorSnapshot{}, fmt.Errorf("decode sensor reading: %w", err)
	}
	if reading.Location == "" {
		return domain.SensorSnapshot{}, errors.New("sensor reading has no location")
	}
	if reading.SoilMoisturePct == nil && reading.RiverLevelM == nil && reading.RainfallMm == nil {
		return domain.SensorSnapshot{}, errors.New("sensor reading has no measurements")
	}

	recordedAt := msg.Time.UTC()
	if reading.RecordedAt != "" {
		parsed, err := time.Parse(time.RFC3339, reading.RecordedAt)
		if err != nil {
			return domain.SensorSnapshot{}, fmt.Errorf("parse recorded_at %q: %w", reading.RecordedAt, err)
		}
		recordedAt = parsed.UTC()
	}

	loc := domain.Location{Name: reading.Location}
	return domain.SensorSnapshot{
		LocationKey:     loc.Key(),
		SoilMoisturePct: reading.SoilMoisturePct,
		RiverLevelM:     reading.RiverLevelM,
		RainfallMm:      reading.RainfallMm,
		RecordedAt:      recordedAt,
	}, nil
}
