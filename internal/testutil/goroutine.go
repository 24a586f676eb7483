// Package testutil holds helpers shared by package tests.
package testutil

import (
	"bytes"
	"runtime"
	"strings"
	"testing"
	"time"
)

// leakWait is how long stopped components get to wind down.
const leakWait = 10 * time.Second

// Goroutines returns the stacks of running goroutines, skipping the caller's
// own and any whose stack mentions one of ignore.
func Goroutines(ignore ...string) []string {
	buf := make([]byte, 1<<20)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}

	var out []string
	for i, g := range bytes.Split(buf, []byte("\n\n")) {
		if i == 0 {
			continue
		}
		stack := string(g)
		if !ignored(stack, ignore) {
			out = append(out, stack)
		}
	}
	return out
}

func ignored(stack string, ignore []string) bool {
	for _, s := range ignore {
		if strings.Contains(stack, s) {
			return true
		}
	}
	return false
}

// AssertNoGoroutineLeaks waits for the goroutine count, less the ignored
// ones, to fall back to baseline+margin. Take baseline with Goroutines and
// the same ignore list. On failure the surviving stacks are logged.
func AssertNoGoroutineLeaks(t *testing.T, baseline, margin int, ignore ...string) {
	t.Helper()
	deadline := time.Now().Add(leakWait)
	var current []string
	for {
		current = Goroutines(ignore...)
		if len(current) <= baseline+margin || time.Now().After(deadline) {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if len(current) <= baseline+margin {
		return
	}
	t.Errorf("goroutine leak: baseline=%d, current=%d, margin=%d", baseline, len(current), margin)
	for i, stack := range current {
		if i == 5 {
			t.Logf("... %d more", len(current)-i)
			break
		}
		t.Logf("running:\n%s", stack)
	}
}
