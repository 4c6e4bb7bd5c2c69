package notifications

import (
	"context"
	"fmt"
	"strings"
)

// Publisher delivers booking lifecycle events to the configured broker
type Publisher interface {
	Publish(ctx context.Context, key string, payload interface{}) error
	Close() error
}

const (
	DriverNone  = "none"
	DriverKafka = "kafka"
	DriverAMQP  = "amqp"
)

// Config selects and configures the event broker
type Config struct {
	Driver       string
	KafkaBrokers []string
	KafkaTopic   string
	AMQPURL      string
	AMQPExchange string
}

// NewPublisher builds the publisher for cfg.Driver
func NewPublisher(cfg Config) (Publisher, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverNone:
		return NoopPublisher{}, nil
	case DriverKafka:
		kafkaConfig := DefaultKafkaPublisherConfig()
		if len(cfg.KafkaBrokers) > 0 {
			kafkaConfig.Brokers = cfg.KafkaBrokers
		}
		if cfg.KafkaTopic != "" {
			kafkaConfig.Topic = cfg.KafkaTopic
		}
		publisher, err := NewKafkaPublisher(kafkaConfig)
		if err != nil {
			return nil, err
		}
		return publisher, nil
	case DriverAMQP:
		publisher, err := NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, err
		}
		return publisher, nil
	default:
		return nil, fmt.Errorf("unknown events driver: %s", cfg.Driver)
	}
}

// NoopPublisher discards every event
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, key string, payload interface{}) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}
