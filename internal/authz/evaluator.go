package authz

import (
	"fmt"

	"github.com/GandRedZ/RedZ/internal/auth"
)

// Decision represents an authorization decision.
type Decision struct {
	// Allowed indicates if the request is allowed.
	Allowed bool

	// Code is the stable denial code when the request is denied.
	Code string

	// Reason is the reason for the decision.
	Reason string
}

// allow is the single allowed decision value.
func allow() *Decision {
	return &Decision{Allowed: true}
}

// deny builds a denial decision with a stable code.
func deny(code, reason string) *Decision {
	return &Decision{Allowed: false, Code: code, Reason: reason}
}

// Requirement describes what a route demands of the caller. Empty
// fields impose no constraint.
type Requirement struct {
	// AnyOf passes when the caller holds at least one listed permission.
	AnyOf []Permission `yaml:"anyOf"`

	// AllOf passes only when the caller holds every listed permission.
	AllOf []Permission `yaml:"allOf"`

	// Roles passes when the caller's role is in the list.
	Roles []Role `yaml:"roles"`

	// Departments passes when the caller belongs to a listed department.
	// Admins bypass this check.
	Departments []string `yaml:"departments"`
}

// Empty reports whether the requirement imposes no constraints.
func (r *Requirement) Empty() bool {
	if r == nil {
		return true
	}
	return len(r.AnyOf) == 0 && len(r.AllOf) == 0 && len(r.Roles) == 0 && len(r.Departments) == 0
}

// Evaluator makes authorization decisions for principals. All checks
// are pure and fail closed: an unknown role holds no permissions.
type Evaluator struct{}

// NewEvaluator creates a new Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// RequireAny checks that the principal holds at least one of the
// required permissions.
func (e *Evaluator) RequireAny(p *auth.Principal, required ...Permission) *Decision {
	if len(required) == 0 {
		return allow()
	}
	role := Role(p.Role)
	for _, perm := range required {
		if HasPermission(role, p.Permissions, perm) {
			return allow()
		}
	}
	return deny(auth.CodeInsufficientPermissions,
		fmt.Sprintf("requires one of %v", required))
}

// RequireAll checks that the principal holds every required permission.
func (e *Evaluator) RequireAll(p *auth.Principal, required ...Permission) *Decision {
	role := Role(p.Role)
	for _, perm := range required {
		if !HasPermission(role, p.Permissions, perm) {
			return deny(auth.CodeInsufficientPermissions,
				fmt.Sprintf("missing permission %s", perm))
		}
	}
	return allow()
}

// RequireRole checks that the principal's role is one of the allowed
// roles.
func (e *Evaluator) RequireRole(p *auth.Principal, roles ...Role) *Decision {
	if len(roles) == 0 {
		return allow()
	}
	role := Role(p.Role)
	for _, r := range roles {
		if role == r {
			return allow()
		}
	}
	return deny(auth.CodeInsufficientRole,
		fmt.Sprintf("requires role in %v", roles))
}

// RequireDepartment checks that the principal belongs to one of the
// allowed departments. Admins pass regardless of department.
func (e *Evaluator) RequireDepartment(p *auth.Principal, departments ...string) *Decision {
	if len(departments) == 0 {
		return allow()
	}
	if Role(p.Role) == RoleAdmin {
		return allow()
	}
	for _, d := range departments {
		if p.Department == d {
			return allow()
		}
	}
	return deny(auth.CodeWrongDepartment, "department not permitted")
}

// Evaluate applies every constraint of the requirement in order:
// roles, departments, allOf, anyOf. The first failing check decides.
// Returns nil when every check passes and a *DenialError carrying the
// stable code otherwise.
func (e *Evaluator) Evaluate(p *auth.Principal, req *Requirement) error {
	if req.Empty() {
		return nil
	}
	if p == nil {
		return ErrNoPrincipal
	}
	if d := e.RequireRole(p, req.Roles...); !d.Allowed {
		return NewDenialError(p.Subject, d.Code, d.Reason)
	}
	if d := e.RequireDepartment(p, req.Departments...); !d.Allowed {
		return NewDenialError(p.Subject, d.Code, d.Reason)
	}
	if d := e.RequireAll(p, req.AllOf...); !d.Allowed {
		return NewDenialError(p.Subject, d.Code, d.Reason)
	}
	if d := e.RequireAny(p, req.AnyOf...); !d.Allowed {
		return NewDenialError(p.Subject, d.Code, d.Reason)
	}
	return nil
}
