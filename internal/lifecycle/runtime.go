// Package lifecycle starts components in registration order and stops them in reverse.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Func adapts a pair of functions to Component; either may be nil.
type Func struct {
	StartFn func(ctx context.Context) error
	StopFn  func(ctx context.Context) error
}

func (f Func) Start(ctx context.Context) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}

type named struct {
	name      string
	component Component
}

type Runtime struct {
	components []named
	started    []named
	log        *log.Entry
}

func NewRuntime() *Runtime {
	return &Runtime{log: log.WithField("object", "Runtime")}
}

// Register appends a component; nil components are ignored.
func (r *Runtime) Register(name string, component Component) {
	if component == nil {
		return
	}
	r.components = append(r.components, named{name: name, component: component})
}

// Start starts every component. On failure the already started ones are stopped and the
// start error is returned.
func (r *Runtime) Start(ctx context.Context) error {
	r.started = r.started[:0]
	for _, c := range r.components {
		begin := time.Now()
		if err := c.component.Start(ctx); err != nil {
			_ = r.stopStarted(ctx)
			return fmt.Errorf("start %s: %w", c.name, err)
		}
		r.log.WithField("component", c.name).WithField("took", time.Since(begin).String()).Debug("started")
		r.started = append(r.started, c)
	}
	return nil
}

// Stop stops the started components in reverse order, collecting every error.
func (r *Runtime) Stop(ctx context.Context) error {
	return r.stopStarted(ctx)
}

func (r *Runtime) stopStarted(ctx context.Context) error {
	var stopErr error
	for i := len(r.started) - 1; i >= 0; i-- {
		c := r.started[i]
		if err := c.component.Stop(ctx); err != nil {
			r.log.WithField("component", c.name).WithField("error", err.Error()).Error("cant stop component")
			stopErr = errors.Join(stopErr, fmt.Errorf("stop %s: %w", c.name, err))
			continue
		}
		r.log.WithField("component", c.name).Debug("stopped")
	}
	r.started = r.started[:0]
	return stopErr
}
