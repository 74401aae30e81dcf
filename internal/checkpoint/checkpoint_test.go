package checkpoint

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestPosition_IsZero(t *testing.T) {
	assert.True(t, Position{}.IsZero())
	assert.True(t, Position{Count: 5}.IsZero())
	assert.False(t, Position{LastID: primitive.NewObjectID()}.IsZero())
}

func TestMemoryStore_LoadUnknownNamespace(t *testing.T) {
	store := NewMemoryStore()

	pos, err := store.Load(context.Background(), "shop.orders")
	require.NoError(t, err)
	assert.True(t, pos.IsZero())
	assert.Equal(t, int64(0), pos.Count)
}

func TestMemoryStore_SaveLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	oid := primitive.NewObjectID()
	require.NoError(t, store.Save(ctx, "shop.orders", Position{LastID: oid, Count: 42}))

	pos, err := store.Load(ctx, "shop.orders")
	require.NoError(t, err)
	assert.Equal(t, oid, pos.LastID)
	assert.Equal(t, int64(42), pos.Count)

	// Other namespaces are untouched
	other, err := store.Load(ctx, "shop.users")
	require.NoError(t, err)
	assert.True(t, other.IsZero())
}

func TestMemoryStore_Overwrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := primitive.NewObjectID()
	second := primitive.NewObjectID()

	require.NoError(t, store.Save(ctx, "shop.orders", Position{LastID: first, Count: 10}))
	require.NoError(t, store.Save(ctx, "shop.orders", Position{LastID: second, Count: 20}))

	pos, err := store.Load(ctx, "shop.orders")
	require.NoError(t, err)
	assert.Equal(t, second, pos.LastID)
	assert.Equal(t, int64(20), pos.Count)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = store.Save(ctx, "shop.orders", Position{LastID: primitive.NewObjectID(), Count: int64(j)})
				_, _ = store.Load(ctx, "shop.orders")
			}
		}()
	}
	wg.Wait()

	pos, err := store.Load(ctx, "shop.orders")
	require.NoError(t, err)
	assert.False(t, pos.IsZero())
}
