// Package metrics registers the pipeline's Prometheus collectors.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by this module.
const Namespace = "podcast"

// CounterVec registers a counter vector on reg, returning the already
// registered collector when an identical one exists. A nil reg uses a private
// registry so tests and tools never collide on the default one.
func CounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) *prometheus.CounterVec {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if opts.Namespace == "" {
		opts.Namespace = Namespace
	}
	vec := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return vec
}
