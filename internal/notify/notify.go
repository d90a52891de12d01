package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// RunEvent 采集结束（成功或失败）时发布的事件，下游据此拉取产物
type RunEvent struct {
	RunID            string         `json:"run_id"`
	State            string         `json:"state"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
	ArtifactPath     string         `json:"artifact_path,omitempty"`
	Uploaded         bool           `json:"uploaded"`
	RecordCount      int            `json:"record_count"`
	SourcesAttempted int            `json:"sources_attempted"`
	SourcesSucceeded int            `json:"sources_succeeded"`
	Categories       map[string]int `json:"categories,omitempty"`
	Error            string         `json:"error,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 把 RunEvent 写入 Kafka topic，key 为 run id
type Publisher struct {
	writer messageWriter
	topic  string
	log    logrus.FieldLogger
}

func NewPublisher(brokers []string, topic string, log logrus.FieldLogger) *Publisher {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     brokers,
		Topic:       topic,
		MaxAttempts: 3,
	})
	return &Publisher{writer: w, topic: topic, log: log.WithField("topic", topic)}
}

func (p *Publisher) Notify(ctx context.Context, ev RunEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.RunID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "state", Value: []byte(ev.State)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish run event %s: %w", ev.RunID, err)
	}
	p.log.WithField("run_id", ev.RunID).Debug("run event published")
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
