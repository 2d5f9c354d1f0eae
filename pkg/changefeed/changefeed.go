// Package changefeed carries record-change events out of the mapping
// layer. The Context records an event after every successful insert and
// update; a Worker drains the recorder into a Publisher so persistence of
// the record itself never waits on downstream sinks.
package changefeed

import (
	"context"
	"sync/atomic"
	"time"

	"docmap/pkg/docstore"
)

// Op classifies a change event.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

// Event describes one committed change: the operation, the collection, the
// record identity and the raw fields that were written.
type Event struct {
	Op         Op                `json:"op"`
	Collection string            `json:"collection"`
	Name       docstore.ID       `json:"name"`
	Fields     docstore.Document `json:"fields"`
	At         time.Time         `json:"at"`
}

// Publisher delivers change events to a sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Recorder buffers change events for asynchronous delivery. Recording
// never blocks the write path: when the buffer is full the event is
// dropped and counted.
type Recorder struct {
	inbox   chan Event
	dropped atomic.Int64
}

// NewRecorder creates a recorder with the given buffer size.
func NewRecorder(buffer int) *Recorder {
	return &Recorder{inbox: make(chan Event, buffer)}
}

// Record enqueues an event. Safe on a nil receiver so the feed stays
// optional on the Context.
func (r *Recorder) Record(_ context.Context, event Event) {
	if r == nil {
		return
	}
	select {
	case r.inbox <- event:
	default:
		r.dropped.Add(1)
	}
}

// Events exposes the buffered events for a Worker to drain.
func (r *Recorder) Events() <-chan Event { return r.inbox }

// Dropped reports how many events were discarded on a full buffer.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Worker drains a recorder into a publisher. It returns on context
// cancellation or on the first publish failure; the runner decides whether
// to restart it.
type Worker struct {
	publisher Publisher
	inbox     <-chan Event
}

// NewWorker wires a publisher to an event channel.
func NewWorker(publisher Publisher, inbox <-chan Event) *Worker {
	return &Worker{publisher: publisher, inbox: inbox}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.publisher.Publish(ctx, event); err != nil {
				return err
			}
		}
	}
}
