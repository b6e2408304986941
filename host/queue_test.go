package host

import (
	"sync"
	"testing"
)

func TestDeferredQueueFIFO(t *testing.T) {
	var q deferredQueue
	var got []int
	for i := 0; i < 10; i++ {
		i := i
		q.Push(func() { got = append(got, i) })
	}

	q.Drain()

	if len(got) != 10 {
		t.Fatalf("drained %d callbacks, want 10", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order %v, want enqueue order", got)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after drain", q.Len())
	}
}

func TestDeferredQueueConcurrentPush(t *testing.T) {
	var q deferredQueue
	var mu sync.Mutex
	seen := 0

	const workers = 16
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				q.Push(func() {
					mu.Lock()
					seen++
					mu.Unlock()
				})
			}
		}()
	}
	wg.Wait()

	q.Drain()

	if seen != workers*perWorker {
		t.Errorf("ran %d callbacks, want %d", seen, workers*perWorker)
	}
}

func TestDeferredQueuePushDuringDrain(t *testing.T) {
	var q deferredQueue
	ran := []string{}

	q.Push(func() {
		ran = append(ran, "first")
		q.Push(func() { ran = append(ran, "second") })
	})

	q.Drain()
	if len(ran) != 1 || ran[0] != "first" {
		t.Fatalf("first drain ran %v", ran)
	}

	q.Drain()
	if len(ran) != 2 || ran[1] != "second" {
		t.Fatalf("second drain ran %v", ran)
	}
}
