package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/srg/miflora/pkg/config"
)

const (
	maxQoS                   = 2
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
)

// MQTTClient is the part of pahomqtt.Client the sink uses.
type MQTTClient interface {
	Connect() pahomqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes each reading as JSON to <topic_prefix>/<address>.
type MQTTSink struct {
	client MQTTClient
	cfg    config.MQTTConfig
	logger *logrus.Logger
}

func buildClientOptions(cfg config.MQTTConfig, logger *logrus.Logger) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.WithError(err).WithField("broker", cfg.Broker).Warn("MQTT connection lost")
	})
	return opts
}

// NewMQTTSink connects to the configured broker.
func NewMQTTSink(cfg config.MQTTConfig, logger *logrus.Logger) (*MQTTSink, error) {
	if logger == nil {
		logger = logrus.New()
	}
	return NewMQTTSinkWithClient(pahomqtt.NewClient(buildClientOptions(cfg, logger)), cfg, logger)
}

// NewMQTTSinkWithClient connects client and wraps it in a sink.
func NewMQTTSinkWithClient(client MQTTClient, cfg config.MQTTConfig, logger *logrus.Logger) (*MQTTSink, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	if strings.Trim(cfg.TopicPrefix, "/") == "" {
		return nil, ErrInvalidTopic
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	logger.WithField("broker", cfg.Broker).Info("Connected to MQTT broker")
	return &MQTTSink{client: client, cfg: cfg, logger: logger}, nil
}

// Topic returns the topic readings of address are published to.
func (s *MQTTSink) Topic(address string) string {
	return strings.TrimRight(s.cfg.TopicPrefix, "/") + "/" + strings.ReplaceAll(address, ":", "")
}

func (s *MQTTSink) Publish(ctx context.Context, r Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.SensorValues == nil && r.FirmwareInfo == nil {
		return ErrEmptyReading
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	topic := s.Topic(r.Address)
	token := s.client.Publish(topic, byte(s.cfg.QoS), s.cfg.Retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	s.logger.WithFields(logrus.Fields{
		"address": r.Address,
		"topic":   topic,
	}).Debug("Published reading to MQTT")
	return nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}
