package deadline

import (
	"sync"
	"testing"
	"time"
)

func TestManagerFiresOnExpiry(t *testing.T) {
	var mu sync.Mutex
	var fired []uint16

	m := NewManager(func(id uint16) {
		mu.Lock()
		fired = append(fired, id)
		mu.Unlock()
	}, 20*time.Millisecond)
	defer m.Stop()

	m.Set(1, time.Now().Add(30*time.Millisecond))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(fired)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != 1 {
		t.Fatalf("fired = %v, want [1]", fired)
	}
}

func TestManagerCancelPreventsFire(t *testing.T) {
	var mu sync.Mutex
	var fired []uint16

	m := NewManager(func(id uint16) {
		mu.Lock()
		fired = append(fired, id)
		mu.Unlock()
	}, 20*time.Millisecond)
	defer m.Stop()

	m.Set(2, time.Now().Add(30*time.Millisecond))
	if !m.Cancel(2) {
		t.Fatal("Cancel returned false for a known id")
	}

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 0 {
		t.Fatalf("fired = %v, want none after Cancel", fired)
	}
}

func TestManagerCancelUnknownID(t *testing.T) {
	m := NewManager(func(uint16) {}, 20*time.Millisecond)
	defer m.Stop()
	if m.Cancel(99) {
		t.Fatal("Cancel returned true for an id that was never Set")
	}
}
