// Package config provides configuration loading, validation and hot
// reloading for the gate.
package config

import "time"

// GateConfig is the root configuration.
type GateConfig struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Redis  RedisConfig  `yaml:"redis"`
	Token  TokenConfig  `yaml:"token"`
	Gate   GateSection  `yaml:"gate"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address      string   `yaml:"address"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	Prefix       string   `yaml:"prefix"`
	PoolSize     int      `yaml:"poolSize"`
	DialTimeout  Duration `yaml:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
}

// TokenConfig holds token service and key settings.
type TokenConfig struct {
	Algorithm      string   `yaml:"algorithm"`
	SecretEnv      string   `yaml:"secretEnv,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	PrivateKeyFile string   `yaml:"privateKeyFile,omitempty"`
	PublicKeyFile  string   `yaml:"publicKeyFile,omitempty"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	AccessTTL      Duration `yaml:"accessTTL"`
	RefreshTTL     Duration `yaml:"refreshTTL"`
	ClockSkew      Duration `yaml:"clockSkew"`
}

// GateSection holds the request gate rules.
type GateSection struct {
	// DefaultRateLimit applies to routes without their own limit.
	DefaultRateLimit RateLimitConfig `yaml:"defaultRateLimit"`

	// RoleMultipliers scale a route's request budget per role. A
	// missing role uses factor 1.
	RoleMultipliers map[string]float64 `yaml:"roleMultipliers,omitempty"`

	// Routes lists the guarded routes.
	Routes []RouteConfig `yaml:"routes"`
}

// RateLimitConfig holds one rate limit rule.
type RateLimitConfig struct {
	MaxRequests int      `yaml:"maxRequests"`
	Window      Duration `yaml:"window"`
}

// Enabled reports whether the rule imposes a limit.
func (r RateLimitConfig) Enabled() bool {
	return r.MaxRequests > 0 && r.Window > 0
}

// Authentication modes for routes.
const (
	AuthRequired  = "required"
	AuthAdvisory  = "advisory"
	AuthAnonymous = "anonymous"
)

// RouteConfig describes one guarded route.
type RouteConfig struct {
	Name      string           `yaml:"name"`
	Method    string           `yaml:"method"`
	Path      string           `yaml:"path"`
	Auth      string           `yaml:"auth"`
	RateLimit *RateLimitConfig `yaml:"rateLimit,omitempty"`
	Require   *RequireConfig   `yaml:"require,omitempty"`
}

// RequireConfig describes the authorization demands of a route.
type RequireConfig struct {
	AnyOf       []string `yaml:"anyOf,omitempty"`
	AllOf       []string `yaml:"allOf,omitempty"`
	Roles       []string `yaml:"roles,omitempty"`
	Departments []string `yaml:"departments,omitempty"`
}

// DefaultConfig returns a GateConfig with default values.
func DefaultConfig() *GateConfig {
	return &GateConfig{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(10 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Prefix:  "redz:",
		},
		Token: TokenConfig{
			Algorithm:  "HS256",
			SecretEnv:  "REDZ_TOKEN_SECRET",
			Issuer:     "redz",
			Audience:   "redz-api",
			AccessTTL:  Duration(15 * time.Minute),
			RefreshTTL: Duration(7 * 24 * time.Hour),
			ClockSkew:  Duration(30 * time.Second),
		},
		Gate: GateSection{
			DefaultRateLimit: RateLimitConfig{
				MaxRequests: 100,
				Window:      Duration(time.Minute),
			},
		},
	}
}
