// Package protocol implements the Request/Response call convention laid
// over a raw mailbox.Mailbox: Query (blocking call with a deadline),
// Send (fire-and-forget), Shutdown, and Process (the server-side
// receive loop). Modeled on the teacher's eventBus.Request/Consumer
// pair (pkg/core/eventbus_impl.go), minus the address-based fan-out:
// here the caller already holds the target mailbox (resolved, if
// needed, via pkg/registry.Locate beforehand).
package protocol

import (
	"context"
	"time"

	"github.com/fluxorio/procmesh/pkg/core"
	"github.com/fluxorio/procmesh/pkg/mailbox"
	"github.com/fluxorio/procmesh/pkg/message"
	"github.com/fluxorio/procmesh/pkg/observability/prometheus"
	"github.com/fluxorio/procmesh/pkg/thread"
	"github.com/fluxorio/procmesh/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var logger = core.NewDefaultLogger()

// Handler answers one Request and produces the Response to send back.
// It is invoked by Process for every Standard message that carries a
// Request whose Timeout has not yet expired (an expired one is answered
// with a Timeout response instead); control Kinds and synthesized
// Signals are handled by
// thread.Context.Process before Handler is ever reached for them (see
// Process below).
type Handler func(ctx context.Context, req message.Request) message.Response

// Query performs a blocking call against target: it builds a Request
// carrying method/args/timeout, stamps RequestTime, and submits it.
// Per spec.md §4.4, the mailbox itself has no timer and no
// cancellation path for a pending submission — "a caller that gives up
// would desynchronize the result slot" — so Query always blocks until
// target's Process loop answers; Timeout is something Process decides
// to synthesize, not something Query races against. Besides carrying the
// call's request id (one is added if absent) and its tracing span, ctx
// only controls whether Submit suspends cooperatively (mailbox.WithFiber)
// or polls.
func Query(ctx context.Context, sender thread.ID, target mailbox.Mailbox, method, args string, timeout time.Duration) message.Response {
	if core.GetRequestID(ctx) == "" {
		ctx = core.WithNewRequestID(ctx)
	}
	ctx, span := tracing.StartQuerySpan(ctx, method, sender.String())
	defer span.End()

	log := logger.WithContext(ctx)
	start := timeNow()
	req := message.Request{
		Sender:      sender.String(),
		Method:      method,
		Args:        args,
		RequestTime: start,
		Timeout:     timeout,
	}

	out := target.Submit(ctx, message.NewRequestMessage(req))
	resp := message.Response{Status: message.Failed}
	if out.Resp != nil {
		resp = *out.Resp
	}

	if resp.Status == message.Timeout {
		span.SetAttributes(attribute.String("procmesh.status", "Timeout"))
		span.SetStatus(codes.Error, "timeout")
		prometheus.GetMetrics().TimeoutResponseTotal.Inc()
	} else if resp.Status == message.Failed {
		span.SetAttributes(attribute.String("procmesh.status", "Failed"))
		span.SetStatus(codes.Error, "failed")
	} else {
		span.SetAttributes(attribute.String("procmesh.status", "Success"))
	}
	prometheus.GetMetrics().QueryDuration.WithLabelValues(method, resp.Status.String()).Observe(timeNow().Sub(start).Seconds())
	log.Debugf("query %s -> %s", method, resp.Status)

	return resp
}

// Send delivers an arbitrary user payload to target without waiting for
// a reply, per spec.md's send() shorthand — there is no Request/Response
// envelope to block on, so this uses Post rather than Submit.
func Send(target mailbox.Mailbox, payload []byte) error {
	return target.Post(message.NewUserMessage(payload))
}

// Shutdown asks target's Process loop to stop, per spec.md §4.5.
func Shutdown(target mailbox.Mailbox, selfID thread.ID) error {
	if err := target.Post(message.NewShutdown(selfID.String())); err != nil {
		return err
	}
	prometheus.GetMetrics().ShutdownTotal.Inc()
	return nil
}

// Process runs one receive step on self's mailbox: thread.Context.Process
// interprets control Kinds (LinkDead/Shutdown) first, and only a
// Standard message carrying a Request is handed to handler. processed
// reports whether there was anything to dequeue at all; shutdown reports
// whether this step delivered a SignalShutdown (per spec.md §4.5, the
// server loop built on Process must stop here — there is no Request to
// answer, so handler is never invoked for it); err surfaces an unconsumed
// OwnerTerminated/LinkTerminated signal, per thread.Context.Process's
// contract.
func Process(self *thread.Context, handler Handler) (processed bool, shutdown bool, err error) {
	processed, err = self.Process(func(req message.Message) message.Message {
		if req.Signal != nil && req.Signal.Kind == message.SignalShutdown {
			shutdown = true
			return message.Message{}
		}

		if req.Req == nil {
			// A synthesized OwnerTerminated/LinkTerminated signal or a
			// bare UserValue: no Request to answer, nothing for this
			// protocol layer to do beyond what thread.Context.Process
			// already decided.
			return message.Message{}
		}

		// spec.md §4.4: timeouts are fields on Request interpreted by
		// the processor, not the mailbox. A stale request never
		// reaches handler at all.
		if req.Req.Timeout > 0 && timeNow().After(req.Req.RequestTime.Add(req.Req.Timeout)) {
			return message.TimeoutResponse()
		}

		ctx := context.Background()
		resp := handler(ctx, *req.Req)
		return message.NewResponseMessage(resp)
	})
	return processed, shutdown, err
}

// timeNow exists so tests can observe that RequestTime gets stamped
// without pulling in a fake clock dependency the teacher never used.
func timeNow() time.Time { return time.Now() }
