package ringbuffer

import (
	"reflect"
	"testing"
)

func TestNewCapacity(t *testing.T) {
	rb := New[int](5)
	if rb.capacity != 5 {
		t.Errorf("expected capacity 5, got %d", rb.capacity)
	}
	if New[int](0).capacity != 1 {
		t.Error("expected capacity to be clamped to 1")
	}
}

func TestSnapshotEmpty(t *testing.T) {
	rb := New[string](5)
	if snap := rb.Snapshot(1); snap != nil {
		t.Errorf("expected nil snapshot from empty buffer, got %v", snap)
	}
	if _, ok := rb.Latest(); ok {
		t.Error("expected no latest value on empty buffer")
	}
}

func TestSnapshotPartialFill(t *testing.T) {
	rb := New[int](5)
	rb.Write(1, 2)

	snap := rb.Snapshot(3) // request 3 but only 2 are stored
	if !reflect.DeepEqual(snap, []int{1, 2}) {
		t.Errorf("expected [1 2], got %v", snap)
	}
}

func TestWrapAround(t *testing.T) {
	rb := New[int](3)
	rb.Write(1, 2, 3, 4, 5)

	if got := rb.Snapshot(0); !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Errorf("expected [3 4 5], got %v", got)
	}
	if got := rb.Snapshot(2); !reflect.DeepEqual(got, []int{4, 5}) {
		t.Errorf("expected [4 5], got %v", got)
	}
	if v, _ := rb.Latest(); v != 5 {
		t.Errorf("expected latest 5, got %d", v)
	}
	if rb.Len() != 3 {
		t.Errorf("expected len 3 (capped), got %d", rb.Len())
	}
}

func TestReset(t *testing.T) {
	rb := New[int](2)
	rb.Write(7, 8)
	rb.Reset()
	if rb.Len() != 0 {
		t.Errorf("expected empty buffer after reset, got %d", rb.Len())
	}
	rb.Write(9)
	if got := rb.Snapshot(0); !reflect.DeepEqual(got, []int{9}) {
		t.Errorf("expected [9], got %v", got)
	}
}
