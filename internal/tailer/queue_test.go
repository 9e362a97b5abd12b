package tailer

import (
	"context"
	"testing"
	"time"
)

func TestForwardQueueBackpressure(t *testing.T) {
	q := newForwardQueue(1)
	if !q.Forward(func() {}) {
		t.Fatalf("first Forward into an empty queue of depth 1 should succeed")
	}
	if q.Forward(func() {}) {
		t.Fatalf("second Forward should report the queue full")
	}
}

func TestForwardQueueRunExecutesInOrder(t *testing.T) {
	q := newForwardQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var order []int
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	results := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		i := i
		if !q.Forward(func() { results <- i }) {
			t.Fatalf("Forward %d should have succeeded", i)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case v := <-results:
			order = append(order, v)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for command %d", i)
		}
	}
	cancel()
	<-done

	want := []int{1, 2, 3}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
