package publish

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
	"github.com/srg/miflora/pkg/config"
)

// PointWriter is the part of api.WriteAPIBlocking the sink uses.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes each reading as one point, tagged by address and type.
type InfluxSink struct {
	writer PointWriter
	cfg    config.InfluxDBConfig
	logger *logrus.Logger
	close  func()
}

// NewInfluxSink connects to the configured server and checks it is healthy.
func NewInfluxSink(ctx context.Context, cfg config.InfluxDBConfig, logger *logrus.Logger) (*InfluxSink, error) {
	if logger == nil {
		logger = logrus.New()
	}

	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds()))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	logger.WithFields(logrus.Fields{
		"url":    cfg.URL,
		"bucket": cfg.Bucket,
	}).Info("Connected to InfluxDB")

	s := NewInfluxSinkWithWriter(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg, logger)
	s.close = client.Close
	return s, nil
}

// NewInfluxSinkWithWriter wraps an existing writer.
func NewInfluxSinkWithWriter(w PointWriter, cfg config.InfluxDBConfig, logger *logrus.Logger) *InfluxSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &InfluxSink{writer: w, cfg: cfg, logger: logger}
}

// Point renders r as an InfluxDB point.
func (s *InfluxSink) Point(r Reading) *write.Point {
	tags := map[string]string{
		"address": r.Address,
		"type":    string(r.Type),
	}
	if r.Name != "" {
		tags["name"] = r.Name
	}

	fields := map[string]interface{}{}
	if v := r.SensorValues; v != nil {
		fields["temperature"] = v.Temperature
		fields["lux"] = int64(v.Lux)
		fields["moisture"] = int64(v.Moisture)
		fields["fertility"] = int64(v.Fertility)
	}
	if fw := r.FirmwareInfo; fw != nil {
		fields["battery"] = int64(fw.Battery)
		fields["firmware"] = fw.Firmware
	}
	if r.RSSI != 0 {
		fields["rssi"] = int64(r.RSSI)
	}

	return write.NewPoint(s.cfg.Measurement, tags, fields, r.Time)
}

func (s *InfluxSink) Publish(ctx context.Context, r Reading) error {
	if r.SensorValues == nil && r.FirmwareInfo == nil {
		return ErrEmptyReading
	}
	if err := s.writer.WritePoint(ctx, s.Point(r)); err != nil {
		return fmt.Errorf("%w: influxdb: %w", ErrPublishFailed, err)
	}

	s.logger.WithFields(logrus.Fields{
		"address":     r.Address,
		"measurement": s.cfg.Measurement,
	}).Debug("Wrote reading to InfluxDB")
	return nil
}

func (s *InfluxSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
