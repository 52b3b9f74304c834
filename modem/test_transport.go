package modem

import (
	"io"
	"strings"
	"sync"
	"time"
)

// TestTransport is a scripted in-memory modem for tests.
//
// Every write is matched against the registered replies by the longest
// command prefix; the next queued response for that prefix becomes readable.
// The last response of a queue repeats. Writes nothing matches get no
// answer, which the engine sees as a timeout. Reads never block: they return
// 0 bytes when nothing is queued, like a serial port with a read timeout.
type TestTransport struct {
	mu      sync.Mutex
	pending []byte
	replies map[string][]string
	writes  []string
	closed  bool
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		replies: make(map[string][]string),
	}
}

// Reply queues responses for commands starting with prefix.
func (t *TestTransport) Reply(prefix string, responses ...string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[prefix] = append(t.replies[prefix], responses...)
	return t
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}

	cmd := string(p)
	t.writes = append(t.writes, cmd)

	best := ""
	found := false
	for prefix := range t.replies {
		if strings.HasPrefix(cmd, prefix) && (!found || len(prefix) > len(best)) {
			best, found = prefix, true
		}
	}
	if !found {
		return len(p), nil
	}

	queue := t.replies[best]
	if len(queue) == 0 {
		return len(p), nil
	}
	t.pending = append(t.pending, queue[0]...)
	if len(queue) > 1 {
		t.replies[best] = queue[1:]
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.EOF
	}
	n = copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.pending = append(t.pending, data...)
	}
}

// Writes returns everything written so far, one entry per Write call.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Commands returns the written command lines without their CRLF.
func (t *TestTransport) Commands() []string {
	writes := t.Writes()
	cmds := make([]string, len(writes))
	for i, w := range writes {
		cmds[i] = strings.TrimSuffix(w, "\r\n")
	}
	return cmds
}

// TestClock is a virtual Clock. After returns immediately and moves the
// clock forward by the requested duration, so polling code under test runs
// without real waits.
type TestClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewTestClock creates a clock starting at a fixed instant.
func NewTestClock() *TestClock {
	return &TestClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *TestClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// Advance moves the clock forward without recording a sleep.
func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Sleeps returns every duration waited for, in order.
func (c *TestClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Count returns how many waits lasted exactly d.
func (c *TestClock) Count(d time.Duration) int {
	n := 0
	for _, s := range c.Sleeps() {
		if s == d {
			n++
		}
	}
	return n
}
