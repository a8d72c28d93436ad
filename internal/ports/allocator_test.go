package ports

import (
	"fmt"
	"io"
	"sync"
	"testing"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func freeListener(int) (io.Closer, error) { return nopCloser{}, nil }

func TestAllocateUniquePorts(t *testing.T) {
	a, err := New(9000, 9004)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	a.listen = freeListener

	seen := make(map[int]bool)
	for i := 0; i < 5; i++ {
		port, err := a.Allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if seen[port] {
			t.Fatalf("port %d allocated twice within reservation window", port)
		}
		seen[port] = true
	}
}

func TestAllocateExhaustion(t *testing.T) {
	a, err := New(9000, 9001)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	a.listen = freeListener

	for i := 0; i < 2; i++ {
		if _, err := a.Allocate(); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
	}
	if _, err := a.Allocate(); err == nil {
		t.Fatalf("expected exhaustion error")
	}
}

func TestReleaseReturnsPort(t *testing.T) {
	a, err := New(9000, 9000)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	a.listen = freeListener

	port, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := a.Allocate(); err == nil {
		t.Fatalf("expected single-port range to exhaust")
	}
	a.Release(port)
	again, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
	if again != port {
		t.Fatalf("expected released port %d, got %d", port, again)
	}
}

func TestAllocateSkipsBoundPorts(t *testing.T) {
	a, err := New(9000, 9002)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	a.listen = func(port int) (io.Closer, error) {
		if port == 9000 {
			return nil, fmt.Errorf("port in use")
		}
		return nopCloser{}, nil
	}

	port, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if port == 9000 {
		t.Fatalf("expected bound port to be skipped")
	}
}

func TestAllocateConcurrent(t *testing.T) {
	a, err := New(9100, 9199)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	a.listen = freeListener

	var mu sync.Mutex
	seen := make(map[int]bool)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := a.Allocate()
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[port] {
				t.Errorf("port %d handed out twice", port)
			}
			seen[port] = true
		}()
	}
	wg.Wait()
}
