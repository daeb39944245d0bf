// Package workflow coordinates multi-stage pipeline runs over the message
// queue: chains, parallel groups with a completion callback, and error links.
package workflow

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of pipeline work.
type Task func(ctx context.Context) error

// Sequence chains tasks: each runs after the previous one succeeds.
func Sequence(tasks ...Task) Task {
	return func(ctx context.Context) error {
		for _, t := range tasks {
			if err := t(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Parallel fans tasks out with bounded concurrency and fires callback once
// every task has succeeded. The first task error cancels the group and is
// returned; the callback does not fire.
func Parallel(limit int, tasks []Task, callback Task) Task {
	return func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		if limit > 0 {
			g.SetLimit(limit)
		}
		for _, t := range tasks {
			g.Go(func() error { return t(gctx) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if callback != nil {
			return callback(ctx)
		}
		return nil
	}
}

// OnError links a failure callback to a task. The callback observes the
// task's error; the original error is still returned.
func OnError(t Task, fail func(ctx context.Context, err error)) Task {
	return func(ctx context.Context) error {
		if err := t(ctx); err != nil {
			fail(ctx, err)
			return err
		}
		return nil
	}
}
