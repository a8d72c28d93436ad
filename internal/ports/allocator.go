package ports

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// reservationWindow is how long an allocated port stays off-limits to other
// callers. The container runtime normally binds the port well within this.
const reservationWindow = 30 * time.Second

// Allocator hands out free host ports from a configured range. The range is
// the one resource shared across concurrent run requests, so allocation runs
// under mutual exclusion and recently granted ports are held back until the
// caller has had a chance to bind them.
type Allocator struct {
	start int
	end   int

	mu       sync.Mutex
	next     int
	reserved map[int]time.Time

	listen func(port int) (io.Closer, error)
}

// New returns an Allocator over [start, end] inclusive.
func New(start, end int) (*Allocator, error) {
	if start <= 0 || end < start {
		return nil, fmt.Errorf("invalid port range %d-%d", start, end)
	}
	a := &Allocator{
		start:    start,
		end:      end,
		next:     start,
		reserved: make(map[int]time.Time),
	}
	a.listen = func(port int) (io.Closer, error) {
		return net.Listen("tcp", fmt.Sprintf(":%d", port))
	}
	return a, nil
}

// Allocate returns a currently unbound port from the range. Exhaustion is an
// error; the caller treats it as fatal for that run attempt.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	size := a.end - a.start + 1
	for i := 0; i < size; i++ {
		port := a.next
		a.next++
		if a.next > a.end {
			a.next = a.start
		}
		if expiry, held := a.reserved[port]; held {
			if now.Before(expiry) {
				continue
			}
			delete(a.reserved, port)
		}
		l, err := a.listen(port)
		if err != nil {
			continue
		}
		_ = l.Close()
		a.reserved[port] = now.Add(reservationWindow)
		return port, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", a.start, a.end)
}

// Release returns a port to the pool before its reservation expires, for run
// attempts that failed after allocation.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, port)
}
