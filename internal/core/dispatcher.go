package core

import (
	"sync"

	"github.com/autodev/remote-drive/internal/util"
)

// dispatcherQueueDepth bounds the Dispatcher's event channel (spec.md §4.6,
// §9). A single slow or wedged consumer must not let producers block
// forever; once the queue saturates, the Dispatcher drops the event and
// raises DispatcherSaturated once rather than silently wedging.
const dispatcherQueueDepth = 1024

// controlQueueDepth bounds the Dispatcher's control channel. Application
// commands (ConnectTo, Send, Disconnect, Broadcast, Stop) and the
// saturation/shutdown-timeout signals ride this separate, always-drained
// channel so a flood of session/link events on the main queue can never
// starve them (spec.md §7, "DispatcherSaturated").
const controlQueueDepth = 32

// dispatcher serializes every mutation of session/registry state onto one
// worker goroutine, replacing per-field mutex locking with a single-writer
// event loop (spec.md §9). Handlers registered with a dispatcher never run
// concurrently with each other or with the worker's own event processing.
type dispatcher struct {
	events  chan dispatchEvent
	control chan dispatchEvent

	saturatedOnce sync.Once
	onSaturated   func()

	stopped chan struct{}
}

func newDispatcher(onSaturated func()) *dispatcher {
	return &dispatcher{
		events:      make(chan dispatchEvent, dispatcherQueueDepth),
		control:     make(chan dispatchEvent, controlQueueDepth),
		onSaturated: onSaturated,
		stopped:     make(chan struct{}),
	}
}

// post enqueues a session/link event without blocking. If the queue is full
// the event is dropped and onSaturated fires exactly once (spec.md §7,
// "DispatcherSaturated").
func (d *dispatcher) post(e dispatchEvent) {
	select {
	case d.events <- e:
	default:
		util.LogError("dispatcher queue saturated, dropping event %T", e)
		d.saturatedOnce.Do(func() {
			if d.onSaturated != nil {
				d.onSaturated()
			}
		})
	}
}

// postControl enqueues an application command or an emergency signal
// (dispatcherFailedEvent, cmdShutdownTimeout) on the control channel. It is
// never blocked behind a saturated event queue, which is what lets
// onSaturated and Stop's deadline path reach the worker even while the main
// queue is wedged. The control channel is small and rarely contended, so a
// full one is dropped with a log line rather than treated as fatal.
func (d *dispatcher) postControl(e dispatchEvent) {
	select {
	case d.control <- e:
	default:
		util.LogError("dispatcher control queue saturated, dropping event %T", e)
	}
}

// run drains both queues on the calling goroutine, invoking handle for each
// event, until the queues are closed by stop. The control channel is
// checked first on every iteration so it is never starved by a backlog on
// events. Callers run this in its own goroutine; it is the only goroutine
// ever allowed to call handle.
func (d *dispatcher) run(handle func(dispatchEvent)) {
	defer close(d.stopped)
	control, events := d.control, d.events
	for control != nil || events != nil {
		select {
		case e, ok := <-control:
			if !ok {
				control = nil
				continue
			}
			handle(e)
			continue
		default:
		}

		select {
		case e, ok := <-control:
			if !ok {
				control = nil
				continue
			}
			handle(e)
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			handle(e)
		}
	}
}

// stop closes both queues, causing run to return once it has drained
// whatever was already queued. It does not discard pending events; callers
// that need an immediate halt should post a cmdStop and wait on its done
// channel before calling stop.
func (d *dispatcher) stop() {
	close(d.events)
	close(d.control)
	<-d.stopped
}
