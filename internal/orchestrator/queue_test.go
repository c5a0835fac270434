package orchestrator

import "testing"

func TestQueuePushPopIsFIFO(t *testing.T) {
	q := newTargetQueue()
	a := &Task{ID: "a"}
	b := &Task{ID: "b"}
	c := &Task{ID: "c"}

	for _, task := range []*Task{a, b, c} {
		if err := q.push(task); err != nil {
			t.Fatalf("push(%s): %v", task.ID, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got := q.pop()
		if got == nil || got.ID != want {
			t.Fatalf("pop() = %v, want %q", got, want)
		}
	}
	if q.pop() != nil {
		t.Fatal("expected an empty queue to pop nil")
	}
}

func TestQueueRejectsAtCapacity(t *testing.T) {
	q := newTargetQueue()
	for i := 0; i < maxQueueSize; i++ {
		if err := q.push(&Task{ID: "t"}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if err := q.push(&Task{ID: "overflow", ToTeam: "beta"}); err == nil {
		t.Fatal("expected a queue-full error at capacity")
	}
}

func TestQueueRemove(t *testing.T) {
	q := newTargetQueue()
	a := &Task{ID: "a"}
	b := &Task{ID: "b"}
	q.push(a)
	q.push(b)

	if !q.remove("a") {
		t.Fatal("expected remove to find task a")
	}
	if q.remove("a") {
		t.Fatal("expected a second remove of the same id to report false")
	}
	if got := q.pop(); got == nil || got.ID != "b" {
		t.Fatalf("pop() = %v, want b", got)
	}
}

func TestQueueDrainClosesAndReturnsPending(t *testing.T) {
	q := newTargetQueue()
	q.push(&Task{ID: "a"})
	q.push(&Task{ID: "b"})

	dropped := q.drain()
	if len(dropped) != 2 {
		t.Fatalf("expected 2 dropped tasks, got %d", len(dropped))
	}
	if err := q.push(&Task{ID: "c"}); err == nil {
		t.Fatal("expected push after drain to fail")
	}
}

func TestQueueLen(t *testing.T) {
	q := newTargetQueue()
	if q.len() != 0 {
		t.Fatalf("len() = %d, want 0", q.len())
	}
	q.push(&Task{ID: "a"})
	if q.len() != 1 {
		t.Fatalf("len() = %d, want 1", q.len())
	}
}
