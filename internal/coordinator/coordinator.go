// Package coordinator orchestrates a full import run: one scanner per
// configured collection, a shared pending-message queue, and a flush loop
// that drains the queue into the publisher until every scanner has
// terminated and the queue is empty.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jentle/kafka-connect-mongo/internal/checkpoint"
	"github.com/jentle/kafka-connect-mongo/internal/envelope"
	"github.com/jentle/kafka-connect-mongo/internal/publisher"
	"github.com/jentle/kafka-connect-mongo/internal/queue"
	"github.com/jentle/kafka-connect-mongo/internal/scanner"
	"github.com/jentle/kafka-connect-mongo/pkg/config"
	"github.com/jentle/kafka-connect-mongo/pkg/errors"
	"github.com/jentle/kafka-connect-mongo/pkg/metrics"
)

// PagerFactory creates the pager a scanner reads its collection through
type PagerFactory func(ctx context.Context, ns envelope.Namespace) (scanner.Pager, error)

// PublisherFactory creates the publisher owning the run's Kafka producer
type PublisherFactory func() (*publisher.Publisher, error)

// Coordinator drives one import pipeline. Every Run constructs fresh
// scanners, a fresh queue, and a fresh producer, so overlapping runs share
// no state.
type Coordinator struct {
	cfg          *config.Config
	checkpoints  checkpoint.Store
	newPager     PagerFactory
	newPublisher PublisherFactory
	logger       *zap.Logger
}

// Config holds coordinator construction parameters. Checkpoints, Pagers
// and Publishers default to the production implementations when unset.
type Config struct {
	Connector   *config.Config
	Checkpoints checkpoint.Store
	Pagers      PagerFactory
	Publishers  PublisherFactory
	Logger      *zap.Logger
}

// New creates a coordinator
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		cfg:          cfg.Connector,
		checkpoints:  cfg.Checkpoints,
		newPager:     cfg.Pagers,
		newPublisher: cfg.Publishers,
		logger:       cfg.Logger.With(zap.String("component", "coordinator")),
	}

	if c.checkpoints == nil {
		c.checkpoints = checkpoint.NewMemoryStore()
	}
	if c.newPager == nil {
		c.newPager = func(ctx context.Context, ns envelope.Namespace) (scanner.Pager, error) {
			return scanner.NewMongoPager(ctx, c.cfg.MongoURI, ns)
		}
	}
	if c.newPublisher == nil {
		c.newPublisher = func() (*publisher.Publisher, error) {
			return publisher.Connect(c.cfg.Kafka, c.logger)
		}
	}

	return c
}

// Run performs one complete import across all configured collections.
// It returns once every scanner has terminated and the queue has been
// fully flushed to the sink. Failures inside scanners never surface here;
// only startup failures are returned.
func (c *Coordinator) Run(ctx context.Context) error {
	start := time.Now()

	namespaces, err := envelope.ParseNamespaces(c.cfg.Databases)
	if err != nil {
		return err
	}

	pub, err := c.newPublisher()
	if err != nil {
		return err
	}

	q := queue.New()

	scanners, err := c.buildScanners(ctx, namespaces, q)
	if err != nil {
		c.closeSink(pub)
		return err
	}

	c.logger.Info("starting import",
		zap.Int("collections", len(scanners)),
		zap.Int("bulk_size", c.cfg.BulkSize),
		zap.Int("high_water", c.cfg.QueueHighWater))

	var wg sync.WaitGroup
	for _, s := range scanners {
		wg.Add(1)
		go func(s *scanner.Scanner) {
			defer wg.Done()
			s.Run(ctx)
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	// Flush loop. Waking on either the flush ticker or queue growth keeps
	// the queue near-empty in steady state; the exit condition requires
	// both no live scanners and an empty queue, re-checked after every
	// drain, so the loop's own flush is the final flush.
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	scannersDone := false
	total := 0
	for {
		select {
		case <-ticker.C:
		case <-q.Grown():
		case <-done:
			scannersDone = true
			done = nil
		}

		total += pub.Drain(q)

		if scannersDone && q.IsEmpty() {
			break
		}
	}

	c.closeSink(pub)

	duration := time.Since(start)
	metrics.ImportDuration.Observe(duration.Seconds())

	c.logger.Info("import complete",
		zap.Int("messages", total),
		zap.Duration("duration", duration))

	return nil
}

// buildScanners connects a pager per namespace and assembles the scanners.
// A connection failure here is a startup error: everything already opened
// is released and the run aborts before any scanner starts.
func (c *Coordinator) buildScanners(ctx context.Context, namespaces []envelope.Namespace, q *queue.Queue) ([]*scanner.Scanner, error) {
	scanners := make([]*scanner.Scanner, 0, len(namespaces))

	for _, ns := range namespaces {
		pager, err := c.newPager(ctx, ns)
		if err != nil {
			for _, s := range scanners {
				s.Release(ctx)
			}
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open collection").
				WithDetail("collection", ns.String())
		}

		scanners = append(scanners, scanner.New(scanner.Config{
			Namespace:   ns,
			Pager:       pager,
			Encoder:     envelope.NewEncoder(c.cfg.TopicPrefix, ns),
			Queue:       q,
			Checkpoints: c.checkpoints,
			Retry:       scanner.NewRetryPolicy(c.cfg.PageRetryAttempts, c.cfg.PageRetryDelay),
			BulkSize:    c.cfg.BulkSize,
			HighWater:   c.cfg.QueueHighWater,
			Logger:      c.logger,
		}))
	}

	return scanners, nil
}

// closeSink releases the sink; failures are logged, never fatal
func (c *Coordinator) closeSink(pub *publisher.Publisher) {
	if err := pub.Close(); err != nil {
		c.logger.Warn("failed to close sink", zap.Error(err))
	}
}
