package sidecar

import (
	"errors"
	"sync"
)

// Lifecycle event names shared with the frontend.
const (
	EventReady      = "backend-ready"
	EventError      = "backend-error"
	EventLogUpdated = "backend-log-updated"
)

// Emitter delivers an event to a frontend-facing transport.
type Emitter interface {
	Emit(event string, payload any) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event string, payload any) error

// Emit calls f.
func (f EmitterFunc) Emit(event string, payload any) error {
	return f(event, payload)
}

// Emitters fans an event out to every member. Nil members are skipped and
// one member's failure does not stop the others.
type Emitters []Emitter

// Emit delivers to all members and joins their errors.
func (es Emitters) Emit(event string, payload any) error {
	var errs []error
	for _, e := range es {
		if e == nil {
			continue
		}
		if err := e.Emit(event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// outcomeEmitter lets exactly one of the ready or error events through.
type outcomeEmitter struct {
	once sync.Once
	next Emitter
}

func (o *outcomeEmitter) ready() error {
	return o.emit(EventReady, true)
}

func (o *outcomeEmitter) failed(msg string) error {
	return o.emit(EventError, msg)
}

func (o *outcomeEmitter) emit(event string, payload any) error {
	var err error
	o.once.Do(func() {
		if o.next != nil {
			err = o.next.Emit(event, payload)
		}
	})
	return err
}
