package conversation

import (
	"fmt"
	"sync"
	"time"
)

// DefaultDebugCapacity caps the debug feed of one conversation.
const DefaultDebugCapacity = 1000

// DebugLog is an append-only ring of timestamped lines; the oldest line is
// evicted once the capacity is reached. It is observational only.
type DebugLog struct {
	mu    sync.Mutex
	lines []string
	start int
	size  int
	now   func() time.Time
}

// NewDebugLog creates a ring with the given capacity (<= 0 uses the default).
func NewDebugLog(capacity int) *DebugLog {
	if capacity <= 0 {
		capacity = DefaultDebugCapacity
	}
	return &DebugLog{lines: make([]string, capacity), now: time.Now}
}

// Add appends "[2006-01-02 15:04:05] KIND: payload".
func (d *DebugLog) Add(kind, payload string) {
	stamp := d.now().Format("2006-01-02 15:04:05")
	d.append(fmt.Sprintf("[%s] %s: %s", stamp, kind, payload))
}

// Addf is Add with a format string.
func (d *DebugLog) Addf(kind, format string, args ...any) {
	d.Add(kind, fmt.Sprintf(format, args...))
}

func (d *DebugLog) append(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	capacity := len(d.lines)
	if d.size < capacity {
		d.lines[(d.start+d.size)%capacity] = line
		d.size++
		return
	}
	d.lines[d.start] = line
	d.start = (d.start + 1) % capacity
}

// Lines returns the retained lines, oldest first.
func (d *DebugLog) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]string, d.size)
	for i := 0; i < d.size; i++ {
		out[i] = d.lines[(d.start+i)%len(d.lines)]
	}
	return out
}

// Len returns the number of retained lines.
func (d *DebugLog) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}
