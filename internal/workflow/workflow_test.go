package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestSequenceStopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	var ran []int
	step := func(n int, err error) Task {
		return func(ctx context.Context) error {
			ran = append(ran, n)
			return err
		}
	}

	err := Sequence(step(1, nil), step(2, boom), step(3, nil))(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(ran) != 2 || ran[0] != 1 || ran[1] != 2 {
		t.Errorf("ran = %v, want [1 2]", ran)
	}
}

func TestParallelFiresCallbackAfterAllTasks(t *testing.T) {
	var done atomic.Int32
	task := func(ctx context.Context) error {
		done.Add(1)
		return nil
	}
	callback := func(ctx context.Context) error {
		if got := done.Load(); got != 3 {
			t.Errorf("callback saw %d finished tasks, want 3", got)
		}
		done.Add(10)
		return nil
	}

	err := Parallel(2, []Task{task, task, task}, callback)(context.Background())
	if err != nil {
		t.Fatalf("Parallel: %v", err)
	}
	if done.Load() != 13 {
		t.Error("callback did not run")
	}
}

func TestParallelErrorSkipsCallback(t *testing.T) {
	boom := errors.New("boom")
	callbackRan := false
	tasks := []Task{
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
	}

	err := Parallel(0, tasks, func(ctx context.Context) error {
		callbackRan = true
		return nil
	})(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if callbackRan {
		t.Error("callback ran despite a task failure")
	}
}

func TestOnErrorObservesAndReturnsError(t *testing.T) {
	boom := errors.New("boom")
	var seen error
	task := OnError(
		func(ctx context.Context) error { return boom },
		func(ctx context.Context, err error) { seen = err },
	)

	if err := task(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if !errors.Is(seen, boom) {
		t.Errorf("failure callback saw %v, want boom", seen)
	}
}
