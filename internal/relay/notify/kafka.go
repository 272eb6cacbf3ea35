package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	id "relay/pkg/domain"
)

// KafkaNotifier produces notifications to a topic keyed by principal, so one
// principal's pings stay ordered within a partition.
type KafkaNotifier struct {
	client *kgo.Client
	topic  string
	now    func() time.Time
}

// NewKafkaClient builds a franz-go client that produces to topic by default.
func NewKafkaClient(brokers []string, topic string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates topic if it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func NewKafkaNotifier(client *kgo.Client, topic string) *KafkaNotifier {
	return &KafkaNotifier{client: client, topic: topic, now: time.Now}
}

func (n *KafkaNotifier) Notify(ctx context.Context, principal id.Principal, text string) error {
	payload, err := encode(principal, text, n.now())
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	record := &kgo.Record{Topic: n.topic, Key: []byte(principal), Value: payload}
	if err := n.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce notification: %w", err)
	}
	return nil
}

// Close flushes pending records and closes the client.
func (n *KafkaNotifier) Close(ctx context.Context) error {
	err := n.client.Flush(ctx)
	n.client.Close()
	return err
}
