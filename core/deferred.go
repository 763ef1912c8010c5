package core

// DeferredCall is a unit of work moved out of interrupt context. Masters embed
// one per completion source so scheduling never allocates.
type DeferredCall struct {
	Handler func(*DeferredCall)
	Next    *DeferredCall
	queued  bool
}

// DeferredQueue runs deferred calls from the main loop in the order they were
// scheduled.
type DeferredQueue struct {
	cs   criticalSection
	head *DeferredCall
	tail *DeferredCall
	n    int
}

// Schedule appends d. It returns false if d is already queued.
func (q *DeferredQueue) Schedule(d *DeferredCall) bool {
	state := q.cs.disableInterrupts()
	defer q.cs.restoreInterrupts(state)

	if d.queued {
		return false
	}
	d.queued = true
	d.Next = nil
	if q.tail == nil {
		q.head = d
	} else {
		q.tail.Next = d
	}
	q.tail = d
	q.n++
	return true
}

// Len returns the number of queued calls.
func (q *DeferredQueue) Len() int {
	state := q.cs.disableInterrupts()
	defer q.cs.restoreInterrupts(state)
	return q.n
}

// ServiceOne runs the oldest queued call. It returns false if none was queued.
func (q *DeferredQueue) ServiceOne() bool {
	state := q.cs.disableInterrupts()
	d := q.head
	if d == nil {
		q.cs.restoreInterrupts(state)
		return false
	}
	q.head = d.Next
	if q.head == nil {
		q.tail = nil
	}
	d.Next = nil // Clear Next pointer to avoid stale links
	d.queued = false
	q.n--
	q.cs.restoreInterrupts(state)

	if d.Handler != nil {
		d.Handler(d)
	}
	return true
}

// Service runs queued calls until the queue is empty, including calls
// scheduled by the handlers themselves. It returns how many ran.
func (q *DeferredQueue) Service() int {
	n := 0
	for q.ServiceOne() {
		n++
	}
	return n
}
