// Package metrics provides the fire-and-forget counter sink the
// workflow engine emits into, with an OpenTelemetry-backed
// implementation and a no-op for tests.
package metrics

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Counter names emitted by the workflow engine.
const (
	CounterDecisions              = "warden_decisions_total"
	CounterBypassDenied           = "warden_bypass_denied_total"
	CounterTerminalMutationDenied = "warden_terminal_mutation_denied_total"
	CounterEscalationsThrottled   = "warden_escalations_throttled_total"
	CounterPrivilegedAuthorize    = "warden_privileged_authorize_total"
	CounterHITLResolutions        = "warden_hitl_resolutions_total"
)

// Sink receives counter increments. Implementations must never block
// the caller on delivery and must swallow their own errors.
type Sink interface {
	Incr(name string, delta int64, labels map[string]string)
}

// Noop discards all increments.
type Noop struct{}

// Incr implements Sink.
func (Noop) Incr(string, int64, map[string]string) {}

// OTel is a Sink backed by OpenTelemetry Int64 counters, created lazily
// per counter name.
type OTel struct {
	meter    metric.Meter
	mu       sync.Mutex
	counters map[string]metric.Int64Counter
}

// NewOTel builds a sink on meter. A nil meter uses the global provider.
func NewOTel(meter metric.Meter) *OTel {
	if meter == nil {
		meter = otel.Meter("warden.workflow")
	}
	return &OTel{meter: meter, counters: make(map[string]metric.Int64Counter)}
}

// Incr implements Sink. Instrument creation failures are dropped: the
// sink is fire-and-forget by contract and must not fail a decision.
func (o *OTel) Incr(name string, delta int64, labels map[string]string) {
	o.mu.Lock()
	counter, ok := o.counters[name]
	if !ok {
		var err error
		counter, err = o.meter.Int64Counter(name)
		if err != nil {
			o.mu.Unlock()
			return
		}
		o.counters[name] = counter
	}
	o.mu.Unlock()

	counter.Add(context.Background(), delta, metric.WithAttributes(attrs(labels)...))
}

func attrs(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, attribute.String(k, labels[k]))
	}
	return out
}

// Recorder is an in-memory Sink for tests.
type Recorder struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{counts: make(map[string]int64)}
}

// Incr implements Sink.
func (r *Recorder) Incr(name string, delta int64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[name] += delta
}

// Count returns the accumulated value for name.
func (r *Recorder) Count(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}
