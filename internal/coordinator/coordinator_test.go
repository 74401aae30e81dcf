package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jentle/kafka-connect-mongo/internal/checkpoint"
	"github.com/jentle/kafka-connect-mongo/internal/envelope"
	"github.com/jentle/kafka-connect-mongo/internal/publisher"
	"github.com/jentle/kafka-connect-mongo/internal/scanner"
	"github.com/jentle/kafka-connect-mongo/pkg/config"
	"github.com/jentle/kafka-connect-mongo/pkg/errors"
	"github.com/jentle/kafka-connect-mongo/pkg/testutil"
)

// memoryPager serves a fixed document slice as one collection
type memoryPager struct {
	docs   []bson.D
	closed bool
}

func (p *memoryPager) NextPage(_ context.Context, after primitive.ObjectID, limit int) ([]bson.D, error) {
	page := make([]bson.D, 0, limit)
	for _, doc := range p.docs {
		id, ok := envelope.DocumentID(doc)
		if !ok {
			continue
		}
		if !after.IsZero() && id.Hex() <= after.Hex() {
			continue
		}
		page = append(page, doc)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (p *memoryPager) Close(context.Context) error {
	p.closed = true
	return nil
}

func testConfig(databases string) *config.Config {
	return &config.Config{
		MongoURI:       "mongodb://unused:27017",
		Databases:      databases,
		TopicPrefix:    "t",
		BulkSize:       1,
		QueueHighWater: 100,
		FlushInterval:  10 * time.Millisecond,
		PageRetryDelay: time.Millisecond,
	}
}

func docWithID(seconds int) bson.D {
	ts := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seconds) * time.Second)
	return bson.D{
		{Key: "_id", Value: primitive.NewObjectIDFromTimestamp(ts)},
		{Key: "seq", Value: int32(seconds)},
	}
}

func TestCoordinator_Run(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	// Collection a.x holds two documents, a.y is empty
	collections := map[string]*memoryPager{
		"a.x": {docs: []bson.D{docWithID(0), docWithID(1)}},
		"a.y": {},
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true
	producer := mocks.NewAsyncProducer(t, saramaCfg)

	var mu sync.Mutex
	var delivered []string
	for i := 0; i < 2; i++ {
		producer.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
			mu.Lock()
			delivered = append(delivered, string(val))
			mu.Unlock()
			return nil
		})
	}

	coord := New(Config{
		Connector: testConfig("a.x,a.y"),
		Pagers: func(_ context.Context, ns envelope.Namespace) (scanner.Pager, error) {
			return collections[ns.String()], nil
		},
		Publishers: func() (*publisher.Publisher, error) {
			return publisher.New(producer, testutil.TestLogger(t)), nil
		},
		Logger: testutil.TestLogger(t),
	})

	require.NoError(t, coord.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, delivered, 2)
	for _, ns := range []string{"a.x", "a.y"} {
		assert.True(t, collections[ns].closed, "pager %s not released", ns)
	}
}

func TestCoordinator_RunTerminatesWithManyCollections(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	const collections = 4
	const docsPer = 30

	pagers := make(map[string]*memoryPager)
	namespaces := "b.c0,b.c1,b.c2,b.c3"
	for i := 0; i < collections; i++ {
		docs := make([]bson.D, 0, docsPer)
		for j := 0; j < docsPer; j++ {
			docs = append(docs, docWithID(i*1000+j))
		}
		pagers[fmt.Sprintf("b.c%d", i)] = &memoryPager{docs: docs}
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true
	producer := mocks.NewAsyncProducer(t, saramaCfg)
	for i := 0; i < collections*docsPer; i++ {
		producer.ExpectInputAndSucceed()
	}

	cfg := testConfig(namespaces)
	cfg.BulkSize = 7
	cfg.QueueHighWater = 10

	coord := New(Config{
		Connector: cfg,
		Pagers: func(_ context.Context, ns envelope.Namespace) (scanner.Pager, error) {
			return pagers[ns.String()], nil
		},
		Publishers: func() (*publisher.Publisher, error) {
			return publisher.New(producer, testutil.TestLogger(t)), nil
		},
		Logger: testutil.TestLogger(t),
	})

	finished := make(chan error, 1)
	go func() {
		finished <- coord.Run(ctx)
	}()

	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("coordinator did not terminate")
	}
}

func TestCoordinator_InvalidNamespaces(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	coord := New(Config{
		Connector: testConfig("not-a-namespace"),
		Logger:    testutil.TestLogger(t),
	})

	err := coord.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestCoordinator_PagerStartupFailure(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true
	producer := mocks.NewAsyncProducer(t, saramaCfg)

	opened := &memoryPager{}
	coord := New(Config{
		Connector: testConfig("a.x,a.y"),
		Pagers: func(_ context.Context, ns envelope.Namespace) (scanner.Pager, error) {
			if ns.Collection == "y" {
				return nil, errors.New(errors.ErrorTypeConnection, "connection refused")
			}
			return opened, nil
		},
		Publishers: func() (*publisher.Publisher, error) {
			return publisher.New(producer, testutil.TestLogger(t)), nil
		},
		Logger: testutil.TestLogger(t),
	})

	err := coord.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))

	// The pager that did open is released again
	assert.True(t, opened.closed)
}

func TestCoordinator_SharesCheckpointStore(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	store := checkpoint.NewMemoryStore()
	docs := []bson.D{docWithID(0), docWithID(1), docWithID(2)}

	newProducer := func() *mocks.AsyncProducer {
		saramaCfg := sarama.NewConfig()
		saramaCfg.Producer.Return.Successes = true
		saramaCfg.Producer.Return.Errors = true
		return mocks.NewAsyncProducer(t, saramaCfg)
	}

	run := func(producer *mocks.AsyncProducer) error {
		coord := New(Config{
			Connector:   testConfig("a.x"),
			Checkpoints: store,
			Pagers: func(context.Context, envelope.Namespace) (scanner.Pager, error) {
				return &memoryPager{docs: docs}, nil
			},
			Publishers: func() (*publisher.Publisher, error) {
				return publisher.New(producer, testutil.TestLogger(t)), nil
			},
			Logger: testutil.TestLogger(t),
		})
		return coord.Run(ctx)
	}

	first := newProducer()
	for i := 0; i < 3; i++ {
		first.ExpectInputAndSucceed()
	}
	require.NoError(t, run(first))

	pos, err := store.Load(ctx, "a.x")
	require.NoError(t, err)
	assert.Equal(t, int64(3), pos.Count)

	// A second run resumes past the saved cursor and emits nothing
	require.NoError(t, run(newProducer()))

	pos, err = store.Load(ctx, "a.x")
	require.NoError(t, err)
	assert.Equal(t, int64(3), pos.Count)
}
