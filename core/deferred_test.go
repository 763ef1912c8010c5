package core

import "testing"

func TestDeferredQueueOrder(t *testing.T) {
	var q DeferredQueue
	var order []int

	calls := make([]DeferredCall, 3)
	for i := range calls {
		n := i
		calls[i].Handler = func(*DeferredCall) { order = append(order, n) }
	}

	q.Schedule(&calls[2])
	q.Schedule(&calls[0])
	q.Schedule(&calls[1])

	if q.Len() != 3 {
		t.Errorf("Expected 3 queued, got %d", q.Len())
	}

	if n := q.Service(); n != 3 {
		t.Errorf("Expected 3 serviced, got %d", n)
	}
	if len(order) != 3 || order[0] != 2 || order[1] != 0 || order[2] != 1 {
		t.Errorf("Expected order [2 0 1], got %v", order)
	}
	if q.ServiceOne() {
		t.Error("ServiceOne on empty queue returned true")
	}
}

func TestDeferredQueueNoDoubleSchedule(t *testing.T) {
	var q DeferredQueue
	runs := 0
	d := DeferredCall{Handler: func(*DeferredCall) { runs++ }}

	if !q.Schedule(&d) {
		t.Fatal("First Schedule failed")
	}
	if q.Schedule(&d) {
		t.Error("Second Schedule of queued call succeeded")
	}
	q.Service()
	if runs != 1 {
		t.Errorf("Expected 1 run, got %d", runs)
	}
}

func TestDeferredQueueRescheduleFromHandler(t *testing.T) {
	var q DeferredQueue
	runs := 0
	var d DeferredCall
	d.Handler = func(dc *DeferredCall) {
		runs++
		if runs < 3 {
			q.Schedule(dc)
		}
	}

	q.Schedule(&d)
	if n := q.Service(); n != 3 {
		t.Errorf("Expected 3 serviced, got %d", n)
	}
	if runs != 3 {
		t.Errorf("Expected 3 runs, got %d", runs)
	}
}
