//go:build franz

package kafka

import (
	"context"
	"crypto/tls"
	"fmt"

	werr "github.com/next-trace/scg-owner-watch/contract/errors"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Concrete franz-go based constructor: producer plus the poll loop feeding
// HandleRecord.

type Config struct {
	Brokers  []string
	Topic    string // defaults to SignalTopic
	TLS      *tls.Config
	ClientID string
}

type kgoWriter struct{ cl *kgo.Client }

func (w kgoWriter) Write(topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if len(headers) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(headers))
		for k, v := range headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return w.cl.ProduceSync(context.Background(), rec).FirstErr()
}

// NewWithKgo builds a franz-go backed Conn consuming the signal topic.
// Every connection sees every record (no consumer group), mirroring signal
// broadcast on a bus. The returned cleanup stops the poll loop and closes
// the client.
func NewWithKgo(cfg Config) (*Conn, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("%w: kafka brokers required", werr.ErrNotConnected)
	}

	topic := cfg.Topic
	if topic == "" {
		topic = SignalTopic
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(topic),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", werr.ErrNotConnected, err)
	}

	conn := New(kgoWriter{cl: cl})

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		for {
			fetches := cl.PollFetches(ctx)
			if fetches.IsClientClosed() || ctx.Err() != nil {
				return
			}

			fetches.EachRecord(func(rec *kgo.Record) {
				conn.HandleRecord(rec.Key, rec.Value)
			})
		}
	}()

	cleanup := func() {
		cancel()
		cl.Close()
	}

	return conn, cleanup, nil
}
