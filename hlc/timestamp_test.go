package hlc

import "testing"

func TestLess(t *testing.T) {
	cases := []struct {
		a, b Timestamp
		want bool
	}{
		{New(1, 0), New(2, 0), true},
		{New(2, 0), New(1, 0), false},
		{New(1, 1), New(1, 2), true},
		{New(1, 2), New(1, 1), false},
		{New(1, 1), New(1, 1), false},
	}
	for _, c := range cases {
		if got := c.a.Less(c.b); got != c.want {
			t.Errorf("%v.Less(%v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestNextLogical(t *testing.T) {
	ts := New(5, 3)
	next := ts.NextLogical()
	if !ts.Less(next) {
		t.Fatalf("NextLogical() did not advance order: %v -> %v", ts, next)
	}
	if next.Wall != ts.Wall {
		t.Fatalf("NextLogical() must not touch Wall, got %v from %v", next, ts)
	}
}

func TestAdvanceBy(t *testing.T) {
	ts := New(5, 3)
	advanced := ts.AdvanceBy(7)
	if advanced.Wall != 12 {
		t.Fatalf("AdvanceBy(7).Wall = %d, want 12", advanced.Wall)
	}
	if advanced.Logical != 0 {
		t.Fatalf("AdvanceBy(7).Logical = %d, want 0", advanced.Logical)
	}
}

func TestMax(t *testing.T) {
	if got := Max(New(1, 0), New(2, 0)); got != New(2, 0) {
		t.Fatalf("Max = %v, want {2 0}", got)
	}
}
