package core

// slotQueue is a FIFO of device slot indices with capacity fixed at
// construction. Each device has at most one outstanding request, so a queue
// sized to the device table can never overflow.
type slotQueue struct {
	slots []uint8
	head  int // next write position
	tail  int // next read position
	used  int
}

func newSlotQueue(size int) slotQueue {
	return slotQueue{slots: make([]uint8, size)}
}

// Size returns the total capacity of the queue.
func (q *slotQueue) Size() int {
	return len(q.slots)
}

// Used returns how many entries are waiting.
func (q *slotQueue) Used() int {
	return q.used
}

// Put appends a slot. If the queue is already full, it returns false.
func (q *slotQueue) Put(slot uint8) bool {
	if q.used == len(q.slots) {
		return false
	}
	q.slots[q.head] = slot
	if q.head++; q.head == len(q.slots) {
		q.head = 0
	}
	q.used++
	return true
}

// Get removes the oldest slot. If the queue is empty, it returns (0, false).
func (q *slotQueue) Get() (uint8, bool) {
	if q.used == 0 {
		return 0, false
	}
	v := q.slots[q.tail]
	if q.tail++; q.tail == len(q.slots) {
		q.tail = 0
	}
	q.used--
	return v, true
}
