// Package metrics exports orchestrator and metadata service metrics to
// Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/photoshare/backend/internal/assets"
	"github.com/photoshare/backend/internal/orchestrator"
)

// Observer records asset lifecycle metrics.
type Observer struct {
	opDuration   *promclient.HistogramVec
	opErrors     *promclient.CounterVec
	uploadBytes  promclient.Counter
	pollAttempts *promclient.CounterVec
	transitions  *promclient.CounterVec
	loads        *promclient.CounterVec
}

// NewObserver registers the lifecycle collectors on reg, reusing collectors
// that are already registered under the same names.
func NewObserver(namespace string, reg promclient.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = "photoshare"
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}

	o := &Observer{
		opDuration: promclient.NewHistogramVec(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of submit, load and delete operations.",
			Buckets:   promclient.DefBuckets,
		}, []string{"operation"}),
		opErrors: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of failed submit, load and delete operations.",
		}, []string{"operation"}),
		uploadBytes: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Cumulative size of originals written to the blob store.",
		}),
		pollAttempts: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "poll_attempts_total",
			Help:      "Processing status checks by outcome.",
		}, []string{"outcome"}),
		transitions: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Asset records entering each lifecycle status.",
		}, []string{"status"}),
		loads: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Record list loads by the source that answered.",
		}, []string{"source"}),
	}

	var err error
	if o.opDuration, err = register(reg, o.opDuration); err != nil {
		return nil, err
	}
	if o.opErrors, err = register(reg, o.opErrors); err != nil {
		return nil, err
	}
	if o.uploadBytes, err = register(reg, o.uploadBytes); err != nil {
		return nil, err
	}
	if o.pollAttempts, err = register(reg, o.pollAttempts); err != nil {
		return nil, err
	}
	if o.transitions, err = register(reg, o.transitions); err != nil {
		return nil, err
	}
	if o.loads, err = register(reg, o.loads); err != nil {
		return nil, err
	}
	return o, nil
}

func register[T promclient.Collector](reg promclient.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are promclient.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// RecordSubmit tracks submission latency, size and failures.
func (o *Observer) RecordSubmit(duration time.Duration, sizeBytes int64, err error) {
	if o == nil {
		return
	}
	o.opDuration.WithLabelValues("submit").Observe(duration.Seconds())
	if err != nil {
		o.opErrors.WithLabelValues("submit").Inc()
		return
	}
	o.uploadBytes.Add(float64(sizeBytes))
}

func (o *Observer) RecordLoad(duration time.Duration, source string, err error) {
	if o == nil {
		return
	}
	o.opDuration.WithLabelValues("load").Observe(duration.Seconds())
	o.loads.WithLabelValues(source).Inc()
	if err != nil {
		o.opErrors.WithLabelValues("load").Inc()
	}
}

func (o *Observer) RecordDelete(duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.opDuration.WithLabelValues("delete").Observe(duration.Seconds())
	if err != nil {
		o.opErrors.WithLabelValues("delete").Inc()
	}
}

func (o *Observer) RecordPollAttempt(outcome string) {
	if o == nil {
		return
	}
	o.pollAttempts.WithLabelValues(outcome).Inc()
}

func (o *Observer) RecordTransition(status assets.Status) {
	if o == nil {
		return
	}
	o.transitions.WithLabelValues(string(status)).Inc()
}

var _ orchestrator.Observer = (*Observer)(nil)
