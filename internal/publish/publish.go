// Package publish forwards sensor readings to external systems: an MQTT
// broker for home automation and InfluxDB for history.
package publish

import (
	"context"
	"errors"
	"time"

	"github.com/srg/miflora/flora"
)

var (
	ErrConnectionFailed = errors.New("publish: connection failed")
	ErrPublishFailed    = errors.New("publish: publish failed")
	ErrInvalidQoS       = errors.New("publish: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic     = errors.New("publish: topic cannot be empty")
	ErrEmptyReading     = errors.New("publish: reading has no values")
)

// Reading is one query result stamped with the time it was taken.
type Reading struct {
	flora.QueryResult
	Name string    `json:"name,omitempty"`
	Time time.Time `json:"time"`
}

// NewReading wraps a query result of dev.
func NewReading(dev *flora.Device, res *flora.QueryResult, at time.Time) Reading {
	return Reading{QueryResult: *res, Name: dev.Name(), Time: at}
}

// Sink receives readings.
type Sink interface {
	Publish(ctx context.Context, r Reading) error
	Close() error
}

type multiSink []Sink

// Multi fans a reading out to every sink. A failing sink does not stop the
// others; their errors are joined.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) Publish(ctx context.Context, r Reading) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
