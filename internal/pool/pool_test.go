package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instance struct {
	id     int64
	nextID *atomic.Int64
}

func (i *instance) Clone() *instance {
	return &instance{id: i.nextID.Add(1), nextID: i.nextID}
}

func newTemplate() *instance {
	return &instance{nextID: &atomic.Int64{}}
}

func TestNewClonesCapacityInstances(t *testing.T) {
	tmpl := newTemplate()
	g, err := New(tmpl, 4)
	require.NoError(t, err)

	assert.Equal(t, 4, g.Capacity())
	assert.Equal(t, 4, g.Available())
	assert.Equal(t, int64(4), tmpl.nextID.Load())

	d, err := New(newTemplate(), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, d.Capacity())

	_, err = New(newTemplate(), -1)
	assert.Error(t, err)
}

func TestTakeNeverLendsTwice(t *testing.T) {
	tmpl := newTemplate()
	g, err := New(tmpl, 3)
	require.NoError(t, err)

	var mu sync.Mutex
	inUse := map[int64]bool{}
	var maxOut, out int

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				x, err := g.Take(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, inUse[x.id], "instance %d lent twice", x.id)
				inUse[x.id] = true
				out++
				maxOut = max(maxOut, out)
				mu.Unlock()

				mu.Lock()
				inUse[x.id] = false
				out--
				mu.Unlock()
				g.Put(x)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxOut, 3)
	assert.Equal(t, 3, g.Available())
	assert.Equal(t, int64(3), tmpl.nextID.Load(), "no instance created after construction")
}

func TestTakeBlocksUntilPut(t *testing.T) {
	g, err := New(newTemplate(), 1)
	require.NoError(t, err)

	x, err := g.Take(context.Background())
	require.NoError(t, err)

	got := make(chan *instance)
	go func() {
		y, err := g.Take(context.Background())
		assert.NoError(t, err)
		got <- y
	}()

	select {
	case <-got:
		t.Fatal("Take returned while the pool was empty")
	case <-time.After(20 * time.Millisecond):
	}

	g.Put(x)
	select {
	case y := <-got:
		assert.Same(t, x, y)
	case <-time.After(time.Second):
		t.Fatal("Take did not return after Put")
	}
}

func TestTakeHonorsContext(t *testing.T) {
	g, err := New(newTemplate(), 1)
	require.NoError(t, err)
	_, err = g.Take(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Take(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPutWithoutTakePanics(t *testing.T) {
	g, err := New(newTemplate(), 1)
	require.NoError(t, err)
	assert.Panics(t, func() { g.Put(&instance{}) })
}
