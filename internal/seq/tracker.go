// Package seq implements wraparound-aware sequence accounting.
package seq

// Step classifies one observation.
type Step uint8

const (
	First      Step = iota // first value seen, nothing to compare against
	InOrder                // exactly last+1
	Gap                    // ahead of last+1; the skipped values count as drops
	OutOfOrder             // behind last+1 under modular distance, or a duplicate
)

func (s Step) String() string {
	switch s {
	case First:
		return "first"
	case InOrder:
		return "in-order"
	case Gap:
		return "gap"
	default:
		return "out-of-order"
	}
}

// Counter is the set of unsigned widths a Tracker can follow.
type Counter interface {
	~uint16 | ~uint32
}

// Tracker follows a monotonically increasing counter of width T and
// counts drops and out-of-order arrivals. All arithmetic is modulo the
// width, so wrapping from the maximum value to zero is in-order.
//
// The zero value is ready to use. A Tracker is not safe for concurrent use.
type Tracker[T Counter] struct {
	last       T
	set        bool
	drops      uint64
	outOfOrder uint64
}

// Observe records v and classifies it against the last accepted value.
// The last accepted value always advances to v, also for out-of-order
// observations.
func (t *Tracker[T]) Observe(v T) Step {
	if !t.set {
		t.last = v
		t.set = true
		return First
	}
	expected := t.last + 1
	t.last = v
	if v == expected {
		return InOrder
	}
	half := ^T(0)>>1 + 1
	d := v - expected
	if d < half {
		t.drops += uint64(d)
		return Gap
	}
	t.outOfOrder++
	return OutOfOrder
}

// Last returns the last accepted value and whether any value was seen.
func (t *Tracker[T]) Last() (T, bool) {
	return t.last, t.set
}

// Drops returns the number of values skipped so far.
func (t *Tracker[T]) Drops() uint64 { return t.drops }

// OutOfOrder returns the number of out-of-order or duplicate observations.
func (t *Tracker[T]) OutOfOrder() uint64 { return t.outOfOrder }
