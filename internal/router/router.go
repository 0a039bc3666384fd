// Package router decides which backend serves a request. Decisions combine a
// request classifier, live backend telemetry, and a per-conversation affinity
// table so multi-turn work stays on a warm model while it is healthy.
package router

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/kyujaq/hearth/internal/backend"
	"github.com/kyujaq/hearth/internal/model"
	"github.com/kyujaq/hearth/internal/telemetry"
)

var routesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hearth",
		Name:      "routes_total",
		Help:      "Routing decisions by backend and reason.",
	},
	[]string{"backend", "reason"},
)

// Telemetry is the read side of the monitor the router consults.
type Telemetry interface {
	Snapshot(name string) (telemetry.Snapshot, bool)
}

// Decision records where a request was sent and why.
type Decision struct {
	Backend  backend.Descriptor
	Reason   string
	Affinity bool
}

// Routing reasons reported in Decision and metrics.
const (
	ReasonSimple   = "simple"
	ReasonAffinity = "affinity"
	ReasonIdle     = "idle_capable"
	ReasonFallback = "deep_fallback"
)

// Router places requests on backends.
type Router struct {
	registry   *backend.Registry
	telemetry  Telemetry
	classifier *Classifier
	affinity   *AffinityTable
	log        zerolog.Logger
}

// New builds a Router over the given registry and telemetry source.
func New(reg *backend.Registry, tel Telemetry, cls *Classifier, aff *AffinityTable, log zerolog.Logger) *Router {
	return &Router{
		registry:   reg,
		telemetry:  tel,
		classifier: cls,
		affinity:   aff,
		log:        log.With().Str("component", "router").Logger(),
	}
}

// Route picks a backend for prompt within conversationID.
//
// Simple prompts always take the fast backend. Otherwise an existing affinity
// binding is reused unless its backend crossed the hard-fallback utilization
// bound, in which case the binding is cleared. With no usable binding the most
// capable idle backend is chosen and bound; when none is idle the request
// falls back to the deep backend without creating a binding.
func (r *Router) Route(conversationID, prompt string) (Decision, error) {
	if r.classifier.IsSimple(prompt) {
		return r.decide(model.ClassFast, ReasonSimple, conversationID, false)
	}

	if name, ok := r.affinity.Get(conversationID); ok {
		desc, found := r.registry.Descriptor(name)
		if found && !r.overloaded(desc) {
			r.affinity.Extend(conversationID)
			routesTotal.WithLabelValues(desc.Name, ReasonAffinity).Inc()
			return Decision{Backend: desc, Reason: ReasonAffinity, Affinity: true}, nil
		}
		r.affinity.Clear(conversationID)
		r.log.Debug().Str("conversation", conversationID).Str("backend", name).Msg("affinity cleared")
	}

	for _, class := range []model.BackendClass{model.ClassVision, model.ClassDeep} {
		desc, ok := r.registry.ByClass(class)
		if !ok {
			continue
		}
		if r.idle(desc) {
			r.affinity.Bind(conversationID, desc.Name)
			routesTotal.WithLabelValues(desc.Name, ReasonIdle).Inc()
			return Decision{Backend: desc, Reason: ReasonIdle, Affinity: true}, nil
		}
	}

	return r.decide(model.ClassDeep, ReasonFallback, conversationID, false)
}

func (r *Router) decide(class model.BackendClass, reason, conversationID string, bind bool) (Decision, error) {
	desc, ok := r.registry.ByClass(class)
	if !ok {
		return Decision{}, errors.Wrapf(model.ErrBackendUnavailable, "no backend of class %q", class)
	}
	if bind {
		r.affinity.Bind(conversationID, desc.Name)
	}
	routesTotal.WithLabelValues(desc.Name, reason).Inc()
	return Decision{Backend: desc, Reason: reason, Affinity: bind}, nil
}

// idle requires the rolling average and the latest sample under the idle
// bound plus enough free resource. The latest sample stands in for queue
// pressure the probe does not expose directly.
func (r *Router) idle(desc backend.Descriptor) bool {
	snap, ok := r.telemetry.Snapshot(desc.Name)
	if !ok {
		return false
	}
	return snap.AvgUtilization <= desc.IdleUtilization &&
		snap.Utilization <= desc.IdleUtilization &&
		snap.FreeResourceMB >= desc.MinFreeResourceMB
}

func (r *Router) overloaded(desc backend.Descriptor) bool {
	snap, ok := r.telemetry.Snapshot(desc.Name)
	if !ok {
		// No telemetry yet. Keep the binding rather than thrash.
		return false
	}
	return snap.Utilization > desc.HardFallbackUtilization
}
