// Package scanner implements the per-collection export loop: page through a
// collection in ascending _id order, wrap each document into its outbound
// envelope, and enqueue it for publishing.
package scanner

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/jentle/kafka-connect-mongo/internal/checkpoint"
	"github.com/jentle/kafka-connect-mongo/internal/envelope"
	"github.com/jentle/kafka-connect-mongo/internal/queue"
	"github.com/jentle/kafka-connect-mongo/pkg/errors"
	"github.com/jentle/kafka-connect-mongo/pkg/metrics"
)

// Pager reads one collection in ascending _id order, one page at a time
type Pager interface {
	// NextPage returns up to limit documents with _id strictly greater than
	// after (all documents when after is the zero ObjectID), sorted ascending.
	NextPage(ctx context.Context, after primitive.ObjectID, limit int) ([]bson.D, error)

	// Close releases the pager's connection resources
	Close(ctx context.Context) error
}

// MongoPager pages a MongoDB collection. Each pager owns its own client
// connection, so concurrent scanners never share connection state.
type MongoPager struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoPager connects to MongoDB and targets one namespace
func NewMongoPager(ctx context.Context, uri string, ns envelope.Namespace) (*MongoPager, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to MongoDB")
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping MongoDB")
	}

	return &MongoPager{
		client: client,
		coll:   client.Database(ns.Database).Collection(ns.Collection),
	}, nil
}

// NextPage implements Pager
func (p *MongoPager) NextPage(ctx context.Context, after primitive.ObjectID, limit int) ([]bson.D, error) {
	filter := bson.D{}
	if !after.IsZero() {
		filter = bson.D{{Key: "_id", Value: bson.D{{Key: "$gt", Value: after}}}}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := p.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "page query failed")
	}
	defer cursor.Close(ctx)

	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read page")
	}

	return docs, nil
}

// Close implements Pager
func (p *MongoPager) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}

// Scanner exhaustively emits every document currently in one collection,
// in ascending _id order, pausing whenever the shared queue is above its
// high-water mark.
type Scanner struct {
	ns          envelope.Namespace
	pager       Pager
	encoder     *envelope.Encoder
	queue       *queue.Queue
	checkpoints checkpoint.Store
	retry       *RetryPolicy
	bulkSize    int
	highWater   int
	logger      *zap.Logger
}

// Config holds scanner construction parameters
type Config struct {
	Namespace   envelope.Namespace
	Pager       Pager
	Encoder     *envelope.Encoder
	Queue       *queue.Queue
	Checkpoints checkpoint.Store
	Retry       *RetryPolicy
	BulkSize    int
	HighWater   int
	Logger      *zap.Logger
}

// New creates a scanner for one collection
func New(cfg Config) *Scanner {
	return &Scanner{
		ns:          cfg.Namespace,
		pager:       cfg.Pager,
		encoder:     cfg.Encoder,
		queue:       cfg.Queue,
		checkpoints: cfg.Checkpoints,
		retry:       cfg.Retry,
		bulkSize:    cfg.BulkSize,
		highWater:   cfg.HighWater,
		logger:      cfg.Logger.With(zap.String("collection", cfg.Namespace.String())),
	}
}

// Run pages through the collection until an empty page is returned. Page
// query failures are retried under the scanner's retry policy without
// advancing the cursor; all other failures are logged and contained here,
// never propagated to the coordinator.
func (s *Scanner) Run(ctx context.Context) {
	defer s.Release(ctx)

	pos, err := s.checkpoints.Load(ctx, s.ns.String())
	if err != nil {
		s.logger.Warn("failed to load checkpoint, starting from the beginning", zap.Error(err))
		pos = checkpoint.Position{}
	}

	if !pos.IsZero() {
		s.logger.Info("resuming from checkpoint",
			zap.String("last_id", pos.LastID.Hex()),
			zap.Int64("count", pos.Count))
	}

	for {
		var docs []bson.D
		err := s.retry.Execute(ctx, func() error {
			var pageErr error
			docs, pageErr = s.pager.NextPage(ctx, pos.LastID, s.bulkSize)
			if pageErr != nil {
				metrics.PageErrors.WithLabelValues(s.ns.String()).Inc()
				s.logger.Error("page query failed", zap.Error(pageErr))
			}
			return pageErr
		})
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Warn("scan cancelled", zap.Int64("emitted", pos.Count))
				return
			}
			s.logger.Error("giving up on collection, retry attempts exhausted",
				zap.Error(err),
				zap.Int64("emitted", pos.Count))
			return
		}

		if len(docs) == 0 {
			s.logger.Info("collection scan complete", zap.Int64("emitted", pos.Count))
			return
		}

		advanced := false
		for _, doc := range docs {
			msg, err := s.encoder.Encode(doc)
			if err != nil {
				s.logger.Error("skipping document that cannot be encoded", zap.Error(err))
				continue
			}

			s.queue.Enqueue(msg)
			metrics.DocumentsExported.WithLabelValues(msg.Topic).Inc()

			// Encode already validated the _id type
			id, _ := envelope.DocumentID(doc)
			pos.LastID = id
			pos.Count++
			advanced = true
		}
		metrics.PagesScanned.WithLabelValues(s.ns.String()).Inc()

		if !advanced {
			// A full page of unencodable documents would be refetched
			// forever; stop instead of spinning on it.
			s.logger.Error("cursor did not advance over a non-empty page, aborting scan",
				zap.Int("page_size", len(docs)))
			return
		}

		if err := s.checkpoints.Save(ctx, s.ns.String(), pos); err != nil {
			s.logger.Warn("failed to save checkpoint", zap.Error(err))
		}

		if err := s.queue.WaitBelow(ctx, s.highWater); err != nil {
			s.logger.Warn("scan cancelled while paused on backpressure", zap.Int64("emitted", pos.Count))
			return
		}
	}
}

// Release closes the pager's connection; a failure here is logged but does
// not change the run's outcome
func (s *Scanner) Release(ctx context.Context) {
	if err := s.pager.Close(ctx); err != nil {
		s.logger.Warn("failed to release collection connection", zap.Error(err))
	}
}
