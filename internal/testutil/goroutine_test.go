package testutil

import (
	"testing"
	"time"
)

func parkedUntil(stop <-chan struct{}) { <-stop }

func TestGoroutinesIgnoresMatchingStacks(t *testing.T) {
	stop := make(chan struct{})
	baseline := len(Goroutines())

	go parkedUntil(stop)
	deadline := time.Now().Add(2 * time.Second)
	for len(Goroutines()) != baseline+1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := len(Goroutines()); got != baseline+1 {
		t.Fatalf("goroutines = %d, want %d", got, baseline+1)
	}
	if got := len(Goroutines("testutil.parkedUntil")); got != baseline {
		t.Errorf("filtered goroutines = %d, want %d", got, baseline)
	}

	close(stop)
	AssertNoGoroutineLeaks(t, baseline, 0)
}
