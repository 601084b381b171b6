// Package ladder implements the classify -> threshold ladder -> action shape shared by the
// progressive enforcement policies: a severity override map evaluated first, then rungs of
// "count at least N" thresholds from the highest down, then a fallback action. The count is
// taken over a trailing Window supplied by the caller.
package ladder

import (
	"context"
	"fmt"
	"sort"
	"time"
)

type Rung[A any] struct {
	Min    int
	Action A
}

type Table[S comparable, A any] struct {
	overrides map[S]A
	rungs     []Rung[A]
	fallback  A
}

// NewTable copies overrides and rungs; rungs are evaluated from the highest Min downwards.
func NewTable[S comparable, A any](overrides map[S]A, rungs []Rung[A], fallback A) (Table[S, A], error) {
	t := Table[S, A]{
		overrides: make(map[S]A, len(overrides)),
		rungs:     append([]Rung[A](nil), rungs...),
		fallback:  fallback,
	}
	for s, a := range overrides {
		t.overrides[s] = a
	}
	seen := make(map[int]struct{}, len(rungs))
	for _, r := range t.rungs {
		if r.Min < 1 {
			return Table[S, A]{}, fmt.Errorf("rung threshold must be positive, got %d", r.Min)
		}
		if _, dup := seen[r.Min]; dup {
			return Table[S, A]{}, fmt.Errorf("duplicate rung threshold %d", r.Min)
		}
		seen[r.Min] = struct{}{}
	}
	sort.Slice(t.rungs, func(i, j int) bool { return t.rungs[i].Min > t.rungs[j].Min })
	return t, nil
}

func MustTable[S comparable, A any](overrides map[S]A, rungs []Rung[A], fallback A) Table[S, A] {
	t, err := NewTable(overrides, rungs, fallback)
	if err != nil {
		panic(err)
	}
	return t
}

// Decide returns the first matching action: severity override, then the highest rung whose
// threshold count reaches, then the fallback.
func (t Table[S, A]) Decide(severity S, count int) A {
	if a, ok := t.overrides[severity]; ok {
		return a
	}
	for _, r := range t.rungs {
		if count >= r.Min {
			return r.Action
		}
	}
	return t.fallback
}

type Window struct {
	Span time.Duration
}

// MaxDays bounds Days well below the point where the span would overflow time.Duration.
const MaxDays = 100 * 365

// Days returns a window of n days; n is clamped to [0, MaxDays].
func Days(n int) Window {
	switch {
	case n < 0:
		n = 0
	case n > MaxDays:
		n = MaxDays
	}
	return Window{Span: time.Duration(n) * 24 * time.Hour}
}

func (w Window) Start(now time.Time) time.Time {
	return now.Add(-w.Span)
}

// Contains reports whether at falls inside [now-Span, now].
func (w Window) Contains(now, at time.Time) bool {
	return !at.Before(w.Start(now)) && !at.After(now)
}

type CountFunc[K any] func(ctx context.Context, key K, since time.Time) (int, error)

type Decision[A any] struct {
	Action A
	Count  int
}

type Policy[K any, S comparable, A any] struct {
	Table  Table[S, A]
	Window Window
}

// Evaluate counts key's events inside the window ending at now and resolves the action.
// The count function is passed per call so it can be bound to a transaction.
func (p Policy[K, S, A]) Evaluate(ctx context.Context, count CountFunc[K], key K, severity S, now time.Time) (Decision[A], error) {
	n, err := count(ctx, key, p.Window.Start(now))
	if err != nil {
		return Decision[A]{}, fmt.Errorf("count window: %w", err)
	}
	return Decision[A]{Action: p.Table.Decide(severity, n), Count: n}, nil
}
