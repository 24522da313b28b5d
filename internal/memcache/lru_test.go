package memcache

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/imagehub/internal/imaging"
)

func testImage(w, h int) *imaging.Image {
	return imaging.New(image.NewRGBA(image.Rect(0, 0, w, h)), imaging.FormatPNG)
}

func TestLRU(t *testing.T) {
	t.Run("PutGet", func(t *testing.T) {
		lru := NewLRU(Options{})
		img := testImage(2, 2)
		lru.Put("a", img, 0)

		got, ok := lru.Get("a")
		require.True(t, ok)
		assert.Same(t, img, got)
		assert.Equal(t, int64(16), lru.Cost(), "a zero cost falls back to w*h*4")

		_, ok = lru.Get("missing")
		assert.False(t, ok)
	})

	t.Run("Overwrite", func(t *testing.T) {
		lru := NewLRU(Options{})
		lru.Put("a", testImage(1, 1), 10)
		newer := testImage(1, 1)
		lru.Put("a", newer, 30)

		assert.Equal(t, 1, lru.Len())
		assert.Equal(t, int64(30), lru.Cost())
		got, _ := lru.Get("a")
		assert.Same(t, newer, got)
	})

	t.Run("CountLimitEvictsOldest", func(t *testing.T) {
		lru := NewLRU(Options{CountLimit: 2})
		lru.Put("A", testImage(1, 1), 1)
		lru.Put("B", testImage(1, 1), 1)
		lru.Put("C", testImage(1, 1), 1)

		_, ok := lru.Get("A")
		assert.False(t, ok)
		_, ok = lru.Get("C")
		assert.True(t, ok)
		assert.Equal(t, 2, lru.Len())
	})

	t.Run("GetRefreshesRecency", func(t *testing.T) {
		lru := NewLRU(Options{CountLimit: 2})
		lru.Put("A", testImage(1, 1), 1)
		lru.Put("B", testImage(1, 1), 1)
		_, ok := lru.Get("A")
		require.True(t, ok)
		lru.Put("C", testImage(1, 1), 1)

		_, ok = lru.Get("A")
		assert.True(t, ok, "recently read entry must survive")
		_, ok = lru.Get("B")
		assert.False(t, ok)
		assert.Equal(t, []string{"A", "C"}, lru.Keys())
	})

	t.Run("CostLimit", func(t *testing.T) {
		var evicted []string
		lru := NewLRU(Options{CostLimit: 100, OnEvict: func(key string, _ *imaging.Image) {
			evicted = append(evicted, key)
		}})
		lru.Put("a", testImage(1, 1), 40)
		lru.Put("b", testImage(1, 1), 40)
		lru.Put("c", testImage(1, 1), 40)

		assert.Equal(t, []string{"a"}, evicted)
		assert.Equal(t, int64(80), lru.Cost())
	})

	t.Run("OversizedEntryDoesNotStick", func(t *testing.T) {
		lru := NewLRU(Options{CostLimit: 10})
		lru.Put("huge", testImage(1, 1), 11)
		assert.Equal(t, 0, lru.Len())
		assert.Equal(t, int64(0), lru.Cost())
	})

	t.Run("RemoveAndPurge", func(t *testing.T) {
		lru := NewLRU(Options{})
		lru.Put("a", testImage(1, 1), 5)
		lru.Put("b", testImage(1, 1), 5)
		lru.Remove("a")
		lru.Remove("a")
		assert.Equal(t, 1, lru.Len())
		assert.Equal(t, int64(5), lru.Cost())

		lru.Purge()
		assert.Equal(t, 0, lru.Len())
		assert.Equal(t, int64(0), lru.Cost())
	})

	t.Run("SetLimitsTrims", func(t *testing.T) {
		lru := NewLRU(Options{})
		for i := range 5 {
			lru.Put(fmt.Sprint(i), testImage(1, 1), 1)
		}
		lru.SetLimits(0, 2)
		assert.Equal(t, []string{"4", "3"}, lru.Keys())
	})

	t.Run("NilImageIgnored", func(t *testing.T) {
		lru := NewLRU(Options{})
		lru.Put("a", nil, 1)
		assert.Equal(t, 0, lru.Len())
	})
}

func TestLRULimitsNeverExceeded(t *testing.T) {
	const costLimit, countLimit = 50, 8
	lru := NewLRU(Options{CostLimit: costLimit, CountLimit: countLimit})
	rng := rand.New(rand.NewSource(7))
	for i := range 2000 {
		key := fmt.Sprint(rng.Intn(20))
		switch rng.Intn(4) {
		case 0:
			lru.Remove(key)
		case 1:
			lru.Get(key)
		default:
			lru.Put(key, testImage(1, 1), int64(1+rng.Intn(30)))
		}
		require.LessOrEqual(t, lru.Cost(), int64(costLimit), "iteration %d", i)
		require.LessOrEqual(t, lru.Len(), countLimit, "iteration %d", i)
	}
}

func TestLRUWatchPressure(t *testing.T) {
	var evicted int
	lru := NewLRU(Options{OnEvict: func(string, *imaging.Image) { evicted++ }})
	lru.Put("a", testImage(1, 1), 1)
	lru.Put("b", testImage(1, 1), 1)

	signals := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		lru.WatchPressure(ctx, signals)
		close(done)
	}()

	signals <- struct{}{}
	require.Eventually(t, func() bool { return lru.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, evicted)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WatchPressure did not return after cancel")
	}
}

func TestNoOp(t *testing.T) {
	var layer Layer = NoOp{}
	layer.Put("a", testImage(1, 1), 1)
	_, ok := layer.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, layer.Len())
}
