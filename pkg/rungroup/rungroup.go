// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rungroup is an adaptation of golang.org/x/sync/errgroup used to supervise
// the long-lived parts of the consumer: the consume loop, the metrics endpoint and
// the signal watcher.
package rungroup

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Group is a collection of named goroutines sharing one context. The context is cancelled
// as soon as any goroutine terminates regardless of the outcome.
type Group struct {
	cancel func()
	log    *zap.Logger

	wg sync.WaitGroup

	errOnce  sync.Once
	err      atomic.Value
	stopOnce sync.Once
	first    atomic.Value
}

// Option configures a Group.
type Option func(*Group)

// WithLogger makes the group log every goroutine that stops.
func WithLogger(l *zap.Logger) Option {
	return func(g *Group) {
		g.log = l
	}
}

// New returns a new Group and an associated Context derived from the provided one.
func New(ctx context.Context, opts ...Option) (*Group, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g := &Group{cancel: cancel, log: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g, ctx
}

// Wait blocks until all functions started with Go have returned, then
// returns the first non-nil error (if any) from them. It doesn't wait
// for functions started with GoAsync.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.cancel()

	if err := g.err.Load(); err != nil {
		return err.(error)
	}
	return nil
}

// FirstStopped returns the name of the goroutine that returned first, or "" if none has.
func (g *Group) FirstStopped() string {
	if name := g.first.Load(); name != nil {
		return name.(string)
	}
	return ""
}

func (g *Group) runFunc(name string, f func() error) {
	err := f()
	g.stopOnce.Do(func() {
		g.first.Store(name)
	})
	if err != nil {
		g.log.Debug("component stopped with error", zap.String("component", name), zap.Error(err))
		g.errOnce.Do(func() {
			g.err.Store(err)
		})
	} else {
		g.log.Debug("component stopped", zap.String("component", name))
	}
	g.cancel()
}

// Go calls the given function in a new goroutine.
func (g *Group) Go(name string, f func() error) {
	g.wg.Add(1)

	go func() {
		defer g.wg.Done()
		g.runFunc(name, f)
	}()
}

// GoAsync behaves the same way Go does, except the call to Wait won't wait for this function to finish.
func (g *Group) GoAsync(name string, f func() error) {
	go g.runFunc(name, f)
}
