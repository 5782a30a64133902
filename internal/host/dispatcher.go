// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package host adapts the phone companion link to the relay: it delivers
// lifecycle events one at a time and carries outbound frames over the bus.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	xglog "github.com/ManuGH/watchrelay/internal/log"
	"github.com/ManuGH/watchrelay/internal/relay"
	"github.com/ManuGH/watchrelay/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("github.com/ManuGH/watchrelay/internal/host")

var (
	// ErrUnknownEvent is returned for event names the relay does not handle.
	ErrUnknownEvent = errors.New("unknown host event")
	// ErrDispatcherClosed is returned after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

const defaultQueueSize = 32

// Event is one host lifecycle event. Payload is only meaningful for webviewclosed.
type Event struct {
	Name    string
	Payload string
}

type job struct {
	ctx    context.Context
	ev     Event
	result chan error
}

// Dispatcher is an EventSource that runs handlers serially in delivery order.
type Dispatcher struct {
	mu       sync.RWMutex
	onReady  func(ctx context.Context)
	onShow   func(ctx context.Context)
	onClosed func(ctx context.Context, response string) error

	queue     chan job
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

// NewDispatcher starts the delivery goroutine. queueSize <= 0 uses a default.
func NewDispatcher(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	d := &Dispatcher{
		queue:  make(chan job, queueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: xglog.WithComponent("dispatcher"),
	}
	go d.run()
	return d
}

func (d *Dispatcher) OnReady(fn func(ctx context.Context)) {
	d.mu.Lock()
	d.onReady = fn
	d.mu.Unlock()
}

func (d *Dispatcher) OnShowConfiguration(fn func(ctx context.Context)) {
	d.mu.Lock()
	d.onShow = fn
	d.mu.Unlock()
}

func (d *Dispatcher) OnWebviewClosed(fn func(ctx context.Context, response string) error) {
	d.mu.Lock()
	d.onClosed = fn
	d.mu.Unlock()
}

// Dispatch queues ev and waits for its handler to return.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	switch ev.Name {
	case relay.EventReady, relay.EventShowConfiguration, relay.EventWebviewClosed:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Name)
	}

	j := job{ctx: ctx, ev: ev, result: make(chan error, 1)}
	select {
	case <-d.quit:
		return ErrDispatcherClosed
	default:
	}
	select {
	case d.queue <- j:
	case <-d.quit:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-d.done:
		// The loop may have exited between enqueue and delivery.
		select {
		case err := <-j.result:
			return err
		default:
			return ErrDispatcherClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, delivers what is already queued and waits for
// the loop to exit.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() { close(d.quit) })
	<-d.done
	return nil
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case j := <-d.queue:
			d.deliver(j)
		case <-d.quit:
			for {
				select {
				case j := <-d.queue:
					d.deliver(j)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	if err := j.ctx.Err(); err != nil {
		j.result <- err
		return
	}

	attrs := append(telemetry.EventAttributes(j.ev.Name, len(j.ev.Payload)),
		telemetry.ConnAttributes(xglog.ConnectionIDFromContext(j.ctx))...)
	ctx, span := tracer.Start(j.ctx, "relay."+j.ev.Name, trace.WithAttributes(attrs...))
	err := d.invoke(ctx, j.ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	j.result <- err
}

func (d *Dispatcher) invoke(ctx context.Context, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger := xglog.WithContext(ctx, d.logger)
			logger.Error().
				Str(xglog.FieldEvent, "dispatcher.panic").
				Str(xglog.FieldHostEvent, ev.Name).
				Interface("panic", rec).
				Msg("event handler panicked")
			err = fmt.Errorf("handler %s panicked: %v", ev.Name, rec)
		}
	}()

	d.mu.RLock()
	onReady, onShow, onClosed := d.onReady, d.onShow, d.onClosed
	d.mu.RUnlock()

	switch ev.Name {
	case relay.EventReady:
		if onReady != nil {
			onReady(ctx)
			return nil
		}
	case relay.EventShowConfiguration:
		if onShow != nil {
			onShow(ctx)
			return nil
		}
	case relay.EventWebviewClosed:
		if onClosed != nil {
			return onClosed(ctx, ev.Payload)
		}
	}
	logger := xglog.WithContext(ctx, d.logger)
	logger.Debug().
		Str(xglog.FieldHostEvent, ev.Name).
		Msg("no handler registered")
	return nil
}

var _ relay.EventSource = (*Dispatcher)(nil)
