// Package eventqueue provides the fixed-capacity, timestamped note event
// queue shared by event producers and the render goroutine.
package eventqueue

import "sync"

// DefaultCapacity is the queue size used when none is configured.
const DefaultCapacity = 320

// Type identifies a queued event.
type Type int

const (
	None Type = iota
	NoteOn
	NoteOff
)

func (t Type) String() string {
	switch t {
	case NoteOn:
		return "note-on"
	case NoteOff:
		return "note-off"
	default:
		return "none"
	}
}

// Event is a note event due at an absolute sample index.
type Event struct {
	Type Type
	Data int
	Time int64
}

// Queue is a FIFO ring buffer that never grows. Every operation holds the
// mutex for a constant number of steps, so the render goroutine only ever
// waits on another O(1) critical section.
type Queue struct {
	mu     sync.Mutex
	events []Event
	front  int
	back   int
	size   int
}

// New allocates a queue holding capacity events. A non-positive capacity
// selects DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{events: make([]Event, capacity)}
}

// Enqueue appends an event and reports false when the queue is full.
func (q *Queue) Enqueue(typ Type, data int, time int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == len(q.events) {
		return false
	}
	q.events[q.back] = Event{Type: typ, Data: data, Time: time}
	q.back = (q.back + 1) % len(q.events)
	q.size++
	return true
}

// Dequeue drops the front event. It is a no-op on an empty queue.
func (q *Queue) Dequeue() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pop()
}

// Front copies the oldest event into ev without removing it.
func (q *Queue) Front(ev *Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return false
	}
	*ev = q.events[q.front]
	return true
}

// FrontAndDequeue copies and removes the oldest event.
func (q *Queue) FrontAndDequeue(ev *Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return false
	}
	*ev = q.events[q.front]
	q.pop()
	return true
}

func (q *Queue) pop() {
	if q.size == 0 {
		return
	}
	q.front = (q.front + 1) % len(q.events)
	q.size--
}

// Clear drops every pending event.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.front, q.back, q.size = 0, 0, 0
	q.mu.Unlock()
}

func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Queue) Cap() int { return len(q.events) }

// DequeueDue pops the front event into ev only if its time is at or before
// now. Events are queued in time order, so a false return means nothing
// else in the queue is due either.
func (q *Queue) DequeueDue(now int64, ev *Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 || q.events[q.front].Time > now {
		return false
	}
	*ev = q.events[q.front]
	q.pop()
	return true
}
