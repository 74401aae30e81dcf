// Package publisher drains the pending-message queue into Kafka.
package publisher

import (
	"crypto/tls"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jentle/kafka-connect-mongo/internal/envelope"
	"github.com/jentle/kafka-connect-mongo/internal/queue"
	"github.com/jentle/kafka-connect-mongo/pkg/config"
	"github.com/jentle/kafka-connect-mongo/pkg/errors"
	"github.com/jentle/kafka-connect-mongo/pkg/metrics"
)

// Publisher owns the Kafka producer for one import run. Sends are
// fire-and-forget: delivery failures surface on the producer's error
// channel, where they are logged and counted but never propagated.
type Publisher struct {
	producer sarama.AsyncProducer
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// Connect creates a producer from the sink connection properties
func Connect(cfg config.KafkaConfig, logger *zap.Logger) (*Publisher, error) {
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, buildSaramaConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create Kafka producer")
	}

	p := New(producer, logger)

	p.logger.Info("connected to Kafka", zap.Strings("brokers", cfg.Brokers))

	return p, nil
}

// New wraps an existing producer. The publisher takes ownership of its
// lifecycle and starts draining its response channels.
func New(producer sarama.AsyncProducer, logger *zap.Logger) *Publisher {
	p := &Publisher{
		producer: producer,
		logger:   logger.With(zap.String("component", "publisher")),
	}

	p.wg.Add(1)
	go p.handleResponses()

	return p
}

// Drain empties whatever is currently queued, sending each message in the
// order it is polled. Returns the number of messages sent.
func (p *Publisher) Drain(q *queue.Queue) int {
	sent := 0
	for {
		msg, ok := q.Dequeue()
		if !ok {
			return sent
		}

		p.producer.Input() <- toProducerMessage(msg)
		sent++
	}
}

// toProducerMessage converts an outbound message to the sarama wire type
func toProducerMessage(msg envelope.Message) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic: msg.Topic,
		Key:   sarama.ByteEncoder(msg.Key),
		Value: sarama.ByteEncoder(msg.Value),
	}
}

// handleResponses drains producer success and error channels until the
// producer is closed
func (p *Publisher) handleResponses() {
	defer p.wg.Done()

	successes := p.producer.Successes()
	producerErrors := p.producer.Errors()

	for successes != nil || producerErrors != nil {
		select {
		case msg, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			p.logger.Debug("message delivered",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset))

		case err, ok := <-producerErrors:
			if !ok {
				producerErrors = nil
				continue
			}
			metrics.PublishFailures.Inc()
			p.logger.Error("failed to deliver message",
				zap.String("topic", err.Msg.Topic),
				zap.Error(err.Err))
		}
	}
}

// Close flushes and shuts down the producer. Errors are returned for
// logging only; they do not alter the run outcome.
func (p *Publisher) Close() error {
	err := p.producer.Close()
	p.wg.Wait()

	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close Kafka producer")
	}

	p.logger.Info("Kafka producer closed")
	return nil
}

// buildSaramaConfig translates the sink connection properties into a
// sarama configuration
func buildSaramaConfig(cfg config.KafkaConfig) *sarama.Config {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.ClientID

	switch cfg.Acks {
	case "all", "-1":
		saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	case "1":
		saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	case "0":
		saramaCfg.Producer.RequiredAcks = sarama.NoResponse
	default:
		saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	}

	saramaCfg.Producer.Retry.Max = cfg.Retries
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true

	switch cfg.Compression {
	case "gzip":
		saramaCfg.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaCfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaCfg.Producer.Compression = sarama.CompressionLZ4
	default:
		saramaCfg.Producer.Compression = sarama.CompressionNone
	}

	if cfg.EnableTLS {
		saramaCfg.Net.TLS.Enable = true
		saramaCfg.Net.TLS.Config = &tls.Config{
			InsecureSkipVerify: cfg.TLSInsecureSkipVerify, // #nosec G402 - explicit operator opt-in
		}
	}

	if cfg.SASLMechanism != "" {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.User = cfg.SASLUsername
		saramaCfg.Net.SASL.Password = cfg.SASLPassword

		switch cfg.SASLMechanism {
		case "PLAIN":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = sha256ClientGenerator
		case "SCRAM-SHA-512":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = sha512ClientGenerator
		}
	}

	return saramaCfg
}
