package mapping

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvmlab/go-ftl/internal/types"
)

func TestInflightDisjointRanges(t *testing.T) {
	f := NewInflight()
	a := f.Lock(0, 8)
	b := f.Lock(8, 8)
	assert.Equal(t, 2, f.Held())
	f.Unlock(a)
	f.Unlock(b)
	assert.Equal(t, 0, f.Held())
}

func TestInflightTryLockOverlap(t *testing.T) {
	f := NewInflight()
	tag := f.Lock(4, 4)

	_, ok := f.TryLock(6, 4)
	assert.False(t, ok)
	_, ok = f.TryLock(0, 4)
	assert.True(t, ok)

	f.Unlock(tag)
	_, ok = f.TryLock(6, 4)
	assert.True(t, ok)
}

func TestInflightBlocksUntilRelease(t *testing.T) {
	f := NewInflight()
	tag := f.Lock(0, 4)

	acquired := make(chan types.Addr)
	go func() {
		inner := f.Lock(2, 2)
		acquired <- 2
		f.Unlock(inner)
	}()

	select {
	case <-acquired:
		t.Fatal("overlapping range acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	f.Unlock(tag)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never woke after release")
	}
}

func TestInflightManyWaiters(t *testing.T) {
	f := NewInflight()
	const workers = 16
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tag := f.Lock(10, 1)
			counter++
			f.Unlock(tag)
		}()
	}
	wg.Wait()
	require.Equal(t, workers, counter, "range lock must serialize all writers")
}
