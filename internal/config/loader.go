package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// LoadConfig loads configuration from a file path. Values start from
// the defaults; the file overrides them. ${VAR} references in the
// file are expanded from the environment before parsing.
func LoadConfig(path string) (*GateConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // path is validated via filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return parseConfig(data)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*GateConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*GateConfig, error) {
	expanded := expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} references with
// environment values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		def := groups[2]

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return def
	})
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// ValidateConfig checks the configuration for errors.
func ValidateConfig(cfg *GateConfig) error {
	var errs ValidationErrors

	if cfg.Server.Addr == "" {
		errs = append(errs, ValidationError{Path: "server.addr", Message: "must not be empty"})
	}

	if cfg.Token.Algorithm == "" {
		errs = append(errs, ValidationError{Path: "token.algorithm", Message: "must be set"})
	}
	if cfg.Token.Issuer == "" {
		errs = append(errs, ValidationError{Path: "token.issuer", Message: "must be set"})
	}
	if cfg.Token.AccessTTL <= 0 {
		errs = append(errs, ValidationError{Path: "token.accessTTL", Message: "must be positive"})
	}
	if cfg.Token.RefreshTTL <= 0 {
		errs = append(errs, ValidationError{Path: "token.refreshTTL", Message: "must be positive"})
	}

	for role, factor := range cfg.Gate.RoleMultipliers {
		if factor <= 0 {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("gate.roleMultipliers.%s", role),
				Message: "must be positive",
			})
		}
	}

	seen := make(map[string]bool)
	for i, route := range cfg.Gate.Routes {
		path := fmt.Sprintf("gate.routes[%d]", i)

		if route.Name == "" {
			errs = append(errs, ValidationError{Path: path + ".name", Message: "must not be empty"})
		} else if seen[route.Name] {
			errs = append(errs, ValidationError{Path: path + ".name", Message: "duplicate route name"})
		}
		seen[route.Name] = true

		if route.Method == "" {
			errs = append(errs, ValidationError{Path: path + ".method", Message: "must not be empty"})
		}
		if route.Path == "" || !strings.HasPrefix(route.Path, "/") {
			errs = append(errs, ValidationError{Path: path + ".path", Message: "must start with /"})
		}

		switch route.Auth {
		case AuthRequired, AuthAdvisory, AuthAnonymous:
		case "":
			errs = append(errs, ValidationError{Path: path + ".auth", Message: "must be set"})
		default:
			errs = append(errs, ValidationError{
				Path:    path + ".auth",
				Message: fmt.Sprintf("unknown mode %q", route.Auth),
			})
		}

		if route.Require != nil && route.Auth != AuthRequired {
			errs = append(errs, ValidationError{
				Path:    path + ".require",
				Message: "authorization demands need auth: required",
			})
		}

		if route.RateLimit != nil && !route.RateLimit.Enabled() {
			errs = append(errs, ValidationError{
				Path:    path + ".rateLimit",
				Message: "maxRequests and window must be positive",
			})
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
