// Package gate composes token verification, rate limiting and
// authorization into a single request-time trust boundary.
package gate

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/GandRedZ/RedZ/internal/auth"
	"github.com/GandRedZ/RedZ/internal/auth/token"
	"github.com/GandRedZ/RedZ/internal/authz"
	"github.com/GandRedZ/RedZ/internal/config"
	"github.com/GandRedZ/RedZ/internal/observability"
	"github.com/GandRedZ/RedZ/internal/ratelimit"
)

// gateTracer is the OTEL tracer for gate decisions.
var gateTracer = otel.Tracer("redz/gate")

// gateDecisionsTotal counts gate outcomes per route.
var gateDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gate_decisions_total",
		Help: "Total number of gate decisions",
	},
	[]string{"route", "outcome"},
)

// Verifier verifies a bearer token and returns the principal it
// authenticates.
type Verifier interface {
	Verify(ctx context.Context, tokenString string) (*auth.Principal, error)
}

// Gate guards routes. For every guarded request it runs, in order:
// token extraction, verification, rate limiting and authorization.
// The window is charged before any verdict, so unauthenticated floods
// consume quota, but a failed required authentication always rejects
// with 401 regardless of the quota state.
type Gate struct {
	verifier  Verifier
	limiter   ratelimit.Limiter
	evaluator *authz.Evaluator
	logger    observability.Logger
	rules     atomic.Pointer[Rules]
}

// GateOption is a functional option for the gate.
type GateOption func(*Gate)

// WithGateLogger sets the logger.
func WithGateLogger(logger observability.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// New creates a gate from a verifier, a limiter and an initial rule
// set.
func New(verifier Verifier, limiter ratelimit.Limiter, rules *Rules, opts ...GateOption) *Gate {
	g := &Gate{
		verifier:  verifier,
		limiter:   limiter,
		evaluator: authz.NewEvaluator(),
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(g)
	}

	g.rules.Store(rules)
	return g
}

// UpdateRules atomically swaps the rule set. In-flight requests keep
// the set they started with.
func (g *Gate) UpdateRules(rules *Rules) {
	g.rules.Store(rules)
	g.logger.Info("gate rules updated")
}

// Middleware wraps a handler with the trust boundary. Requests to
// routes outside the rule set pass through untouched.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rules := g.rules.Load()
		route := rules.Lookup(r.Method, r.URL.Path)
		if route == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := observability.ContextWithRequestID(r.Context(), uuid.NewString())
		ctx, span := gateTracer.Start(ctx, "gate.decide",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attribute.String("gate.route", route.Name)),
		)
		defer span.End()

		r = r.WithContext(ctx)
		logger := g.logger.WithContext(ctx)

		// Extraction and verification. The verdict waits until the
		// window has been charged below.
		var principal *auth.Principal
		var authErr error

		if route.Auth != config.AuthAnonymous {
			raw := token.ExtractFromRequest(r)
			if raw == "" {
				authErr = auth.ErrTokenMissing
			} else {
				principal, authErr = g.verifier.Verify(ctx, raw)
			}
		}

		// Rate limiting always runs. Verified callers are keyed by
		// subject, everyone else by client address.
		role := ""
		if principal != nil {
			role = principal.Role
		}
		limit := rules.LimitFor(route, role)
		key := ratelimit.KeyFor(r, principal)

		result, err := g.limiter.Check(ctx, key, limit)
		if err != nil {
			// The limiter fails open internally; an error here is a
			// programming error, not a store failure.
			logger.Error("rate limit check failed", observability.Error(err))
			result = &ratelimit.Result{Allowed: true, Limit: limit.MaxRequests, Remaining: limit.MaxRequests}
		}

		setRateLimitHeaders(w, result)

		// Authentication verdict. The window was already charged, but
		// a caller that fails required authentication sees the 401, not
		// a 429. Advisory routes degrade to anonymous on failure.
		if authErr != nil {
			if route.Auth == config.AuthRequired {
				code := auth.CodeForError(authErr)
				g.record(span, route, code)
				logger.Info("request rejected",
					observability.String("route", route.Name),
					observability.String("code", code),
				)
				writeReject(w, http.StatusUnauthorized, code, "authentication required")
				return
			}
			principal = nil
		}

		if !result.Allowed {
			g.record(span, route, "rate_limited")
			logger.Warn("request rate limited",
				observability.String("route", route.Name),
				observability.String("key", key),
				observability.Int64("total", result.Total),
			)
			writeRateLimited(w, auth.CodeRateLimited, result)
			return
		}

		// Authorization.
		if route.Require != nil && principal != nil {
			if err := g.evaluator.Evaluate(principal, route.Require); err != nil {
				var denial *authz.DenialError
				if !errors.As(err, &denial) {
					denial = authz.NewDenialError(principal.Subject, auth.CodeInsufficientPermissions, "access denied")
				}
				g.record(span, route, denial.Code)
				logger.Info("request forbidden",
					observability.String("route", route.Name),
					observability.String("subject", principal.Subject),
					observability.String("code", denial.Code),
				)
				writeReject(w, http.StatusForbidden, denial.Code, denial.Reason)
				return
			}
		}

		g.record(span, route, "allowed")

		if principal != nil {
			r = r.WithContext(auth.ContextWithPrincipal(r.Context(), principal))
		}
		next.ServeHTTP(w, r)
	})
}

// record stamps the decision outcome on the span and the counter.
func (g *Gate) record(span trace.Span, route *Route, outcome string) {
	span.SetAttributes(attribute.String("gate.outcome", outcome))
	gateDecisionsTotal.WithLabelValues(route.Name, outcome).Inc()
}
