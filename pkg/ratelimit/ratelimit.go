// Package ratelimit serializes calls to a shared external budget.
//
// The GitHub search API allows roughly 30 requests per minute per token.
// Every search issued by the process, across all installations and users,
// funnels through one Limiter so simultaneous trigger firings degrade to a
// queue rather than exceeding the budget.
package ratelimit

import (
	"context"
	"time"
)

// Limiter runs functions one at a time, spacing the start of each call a
// minimum delay after the completion of the previous one. Callers blocked on
// the limiter are served in FIFO order.
type Limiter struct {
	turn  chan struct{}
	delay time.Duration
}

// New creates a limiter that spaces successive calls by delay.
func New(delay time.Duration) *Limiter {
	l := &Limiter{
		turn:  make(chan struct{}, 1),
		delay: delay,
	}
	l.turn <- struct{}{}
	return l
}

// PerMinute creates a limiter from a calls-per-minute budget.
func PerMinute(calls int) *Limiter {
	if calls <= 0 {
		calls = 1
	}
	return New(time.Minute / time.Duration(calls))
}

// Do executes fn once the caller's turn arrives. The next caller is released
// only after fn returns and the cooldown has elapsed, so completions are never
// closer together than the configured delay. A cancelled context while queued
// returns ctx.Err without invoking fn.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	select {
	case <-l.turn:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := fn()

	// Release the next waiter after the cooldown. Detached from ctx: a
	// caller's cancellation must not wedge the queue for everyone else.
	time.AfterFunc(l.delay, func() {
		l.turn <- struct{}{}
	})
	return err
}
