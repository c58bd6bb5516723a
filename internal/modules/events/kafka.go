// README: Publishes donation lifecycle events to Kafka via a sarama SyncProducer.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"foodbridge/internal/modules/donation"
)

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher dials brokers with acks from all in-sync replicas.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond
	cfg.Producer.Return.Successes = true // required by SyncProducer
	cfg.Net.DialTimeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sarama producer: %w", err)
	}
	return NewPublisher(producer, topic), nil
}

func NewPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// message is the wire shape of a lifecycle event.
type message struct {
	Type string `json:"type"`
	donation.Event
}

// Publish keys messages by donation so one donation's events stay ordered
// within a partition.
func (p *KafkaPublisher) Publish(_ context.Context, e donation.Event) error {
	val, err := json.Marshal(message{Type: "donation." + string(e.ToStatus), Event: e})
	if err != nil {
		return err
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.DonationID),
		Value: sarama.ByteEncoder(val),
		Headers: []sarama.RecordHeader{
			{Key: []byte("from_status"), Value: []byte(e.FromStatus)},
			{Key: []byte("to_status"), Value: []byte(e.ToStatus)},
		},
	})
	if err != nil {
		return fmt.Errorf("send to topic %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
