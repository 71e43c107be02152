package gate

import (
	"time"

	"github.com/GandRedZ/RedZ/internal/authz"
	"github.com/GandRedZ/RedZ/internal/config"
	"github.com/GandRedZ/RedZ/internal/ratelimit"
)

// Route is one guarded route with its resolved rules.
type Route struct {
	Name   string
	Method string
	Path   string

	// Auth is the authentication mode: required, advisory or anonymous.
	Auth string

	// Limit is the route's rate limit. Nil falls back to the default.
	Limit *ratelimit.Limit

	// Require is the route's authorization demand. Nil means any
	// authenticated caller passes.
	Require *authz.Requirement
}

// Rules is the full immutable rule set the gate decides against. Hot
// reloads swap the whole set atomically.
type Rules struct {
	DefaultLimit    ratelimit.Limit
	RoleMultipliers map[string]float64
	routes          map[string]*Route
}

func routeKey(method, path string) string {
	return method + " " + path
}

// Lookup finds the route for a method and path. Returns nil when the
// route is not guarded.
func (r *Rules) Lookup(method, path string) *Route {
	if r == nil {
		return nil
	}
	return r.routes[routeKey(method, path)]
}

// LimitFor resolves the effective limit for a route and role: the
// route's own limit (or the default), scaled by the role multiplier.
func (r *Rules) LimitFor(route *Route, role string) ratelimit.Limit {
	limit := r.DefaultLimit
	if route.Limit != nil {
		limit = *route.Limit
	}

	if factor, ok := r.RoleMultipliers[role]; ok && factor > 0 {
		scaled := int(float64(limit.MaxRequests) * factor)
		if scaled < 1 {
			scaled = 1
		}
		limit.MaxRequests = scaled
	}

	return limit
}

// RulesFromConfig resolves the gate section of the configuration into
// an immutable rule set.
func RulesFromConfig(section config.GateSection) *Rules {
	rules := &Rules{
		DefaultLimit: ratelimit.Limit{
			MaxRequests: section.DefaultRateLimit.MaxRequests,
			Window:      section.DefaultRateLimit.Window.Duration(),
		},
		RoleMultipliers: section.RoleMultipliers,
		routes:          make(map[string]*Route, len(section.Routes)),
	}

	if rules.DefaultLimit.Window <= 0 {
		rules.DefaultLimit = ratelimit.Limit{MaxRequests: 100, Window: time.Minute}
	}

	for _, rc := range section.Routes {
		route := &Route{
			Name:   rc.Name,
			Method: rc.Method,
			Path:   rc.Path,
			Auth:   rc.Auth,
		}

		if rc.RateLimit != nil && rc.RateLimit.Enabled() {
			route.Limit = &ratelimit.Limit{
				MaxRequests: rc.RateLimit.MaxRequests,
				Window:      rc.RateLimit.Window.Duration(),
			}
		}

		if rc.Require != nil {
			route.Require = requirementFromConfig(rc.Require)
		}

		rules.routes[routeKey(route.Method, route.Path)] = route
	}

	return rules
}

func requirementFromConfig(rc *config.RequireConfig) *authz.Requirement {
	req := &authz.Requirement{
		Departments: rc.Departments,
	}
	for _, p := range rc.AnyOf {
		req.AnyOf = append(req.AnyOf, authz.Permission(p))
	}
	for _, p := range rc.AllOf {
		req.AllOf = append(req.AllOf, authz.Permission(p))
	}
	for _, r := range rc.Roles {
		req.Roles = append(req.Roles, authz.Role(r))
	}
	return req
}
