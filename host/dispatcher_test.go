package host

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolDispatch(t *testing.T) {
	t.Parallel()
	pool, err := NewPool(2)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release()

	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		if err := pool.Dispatch(func() {
			defer wg.Done()
			n.Add(1)
		}); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	if n.Load() != 20 {
		t.Errorf("ran %d items, want 20", n.Load())
	}
}

func TestPoolOverloadFallsBack(t *testing.T) {
	t.Parallel()
	pool, err := NewPool(1)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release()

	// Occupy the only worker, then dispatch more; the extras must still run.
	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	pool.Dispatch(func() {
		defer wg.Done()
		<-block
	})

	var n atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		if err := pool.Dispatch(func() {
			defer wg.Done()
			n.Add(1)
		}); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.After(5 * time.Second)
	done := make(chan struct{})
	go func() {
		for n.Load() < 5 {
			time.Sleep(time.Millisecond)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-deadline:
		t.Fatal("overflow work items did not run")
	}
	close(block)
	wg.Wait()
}
