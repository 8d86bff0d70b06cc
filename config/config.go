package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server configuration
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`

	// Redis configuration
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// PubNub configuration
	PubNubPublishKey   string `yaml:"pubnub_publish_key"`
	PubNubSubscribeKey string `yaml:"pubnub_subscribe_key"`
	PubNubSecretKey    string `yaml:"pubnub_secret_key"`
	PubNubUserID       string `yaml:"pubnub_user_id"`

	Backend BackendConfig `yaml:"backend"`
	Gateway GatewayConfig `yaml:"gateway"`
	Session SessionConfig `yaml:"session"`

	// Rate limiting on submit routes
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	// Monitoring
	EnableMetrics bool `yaml:"enable_metrics"`

	// EnableTestEndpoints exposes the outcome simulator. Never on in production.
	EnableTestEndpoints bool `yaml:"enable_test_endpoints"`
}

type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`

	ContributionPath string `yaml:"contribution_path"`
	DepositPath      string `yaml:"deposit_path"`
	RepaymentPath    string `yaml:"repayment_path"`
	WebhookPath      string `yaml:"webhook_path"`
	WebhookSecret    string `yaml:"webhook_secret"`
}

type GatewayConfig struct {
	// Provider selects the widget SDK: "checkout" or "sandbox".
	Provider string `yaml:"provider"`

	ScriptURL       string        `yaml:"script_url"`
	ScriptIntegrity string        `yaml:"script_integrity"`
	ReadyTimeout    time.Duration `yaml:"ready_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`

	PublicKey   string `yaml:"public_key"`
	Sandbox     bool   `yaml:"sandbox"`
	Position    string `yaml:"position"`
	Theme       string `yaml:"theme"`
	CallbackURL string `yaml:"callback_url"`

	// Provider API used by the checkout SDK.
	APIURL       string `yaml:"api_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	SigningKey   string `yaml:"signing_key"`
}

type SessionConfig struct {
	TTL              time.Duration `yaml:"ttl"`
	ReconcileTimeout time.Duration `yaml:"reconcile_timeout"`
}

// Default returns the built-in settings before any file or environment overlay.
func Default() *Config {
	return &Config{
		Port:        "8090",
		Environment: "development",
		LogLevel:    "info",

		RedisURL: "localhost:6379",

		PubNubUserID: "payflow-server",

		Backend: BackendConfig{
			BaseURL:          "http://localhost:3000",
			Timeout:          15 * time.Second,
			ContributionPath: "/api/tontines/cotisations/initiate",
			DepositPath:      "/api/epargne/depots/initiate",
			RepaymentPath:    "/api/credits/remboursements/initiate",
			WebhookPath:      "/api/webhooks/payment",
		},

		Gateway: GatewayConfig{
			Provider:     "sandbox",
			ScriptURL:    "https://cdn.checkout.example/widget/v1/checkout.js",
			ReadyTimeout: 10 * time.Second,
			PollInterval: 100 * time.Millisecond,
			Sandbox:      true,
			Position:     "center",
			Theme:        "#0095ff",
			APIURL:       "https://api.checkout.example",
		},

		Session: SessionConfig{
			TTL:              24 * time.Hour,
			ReconcileTimeout: 30 * time.Second,
		},

		RateLimitRequests: 20,
		RateLimitWindow:   time.Minute,

		EnableMetrics: true,
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file named
// by PAYFLOW_CONFIG_FILE if set, then environment variables.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("PAYFLOW_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	// Server
	c.Port = getEnv("PORT", c.Port)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	// Redis
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvAsInt("REDIS_DB", c.RedisDB)

	// PubNub
	c.PubNubPublishKey = getEnv("PUBNUB_PUBLISH_KEY", c.PubNubPublishKey)
	c.PubNubSubscribeKey = getEnv("PUBNUB_SUBSCRIBE_KEY", c.PubNubSubscribeKey)
	c.PubNubSecretKey = getEnv("PUBNUB_SECRET_KEY", c.PubNubSecretKey)
	c.PubNubUserID = getEnv("PUBNUB_USER_ID", c.PubNubUserID)

	// Backend
	b := &c.Backend
	b.BaseURL = getEnv("BACKEND_URL", b.BaseURL)
	b.Token = getEnv("BACKEND_TOKEN", b.Token)
	b.Timeout = getEnvAsDuration("BACKEND_TIMEOUT", b.Timeout)
	b.ContributionPath = getEnv("CONTRIBUTION_PATH", b.ContributionPath)
	b.DepositPath = getEnv("DEPOSIT_PATH", b.DepositPath)
	b.RepaymentPath = getEnv("REPAYMENT_PATH", b.RepaymentPath)
	b.WebhookPath = getEnv("WEBHOOK_PATH", b.WebhookPath)
	b.WebhookSecret = getEnv("WEBHOOK_SECRET", b.WebhookSecret)

	// Gateway
	g := &c.Gateway
	g.Provider = getEnv("GATEWAY_PROVIDER", g.Provider)
	g.ScriptURL = getEnv("GATEWAY_SCRIPT_URL", g.ScriptURL)
	g.ScriptIntegrity = getEnv("GATEWAY_SCRIPT_INTEGRITY", g.ScriptIntegrity)
	g.ReadyTimeout = getEnvAsDuration("GATEWAY_READY_TIMEOUT", g.ReadyTimeout)
	g.PollInterval = getEnvAsDuration("GATEWAY_POLL_INTERVAL", g.PollInterval)
	g.PublicKey = getEnv("GATEWAY_PUBLIC_KEY", g.PublicKey)
	g.Sandbox = getEnvAsBool("GATEWAY_SANDBOX", g.Sandbox)
	g.Position = getEnv("GATEWAY_POSITION", g.Position)
	g.Theme = getEnv("GATEWAY_THEME", g.Theme)
	g.CallbackURL = getEnv("GATEWAY_CALLBACK_URL", g.CallbackURL)
	g.APIURL = getEnv("GATEWAY_API_URL", g.APIURL)
	g.ClientID = getEnv("GATEWAY_CLIENT_ID", g.ClientID)
	g.ClientSecret = getEnv("GATEWAY_CLIENT_SECRET", g.ClientSecret)
	g.SigningKey = getEnv("GATEWAY_SIGNING_KEY", g.SigningKey)

	// Session
	c.Session.TTL = getEnvAsDuration("SESSION_TTL", c.Session.TTL)
	c.Session.ReconcileTimeout = getEnvAsDuration("RECONCILE_TIMEOUT", c.Session.ReconcileTimeout)

	// Rate limiting
	c.RateLimitRequests = getEnvAsInt("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindow = getEnvAsDuration("RATE_LIMIT_WINDOW", c.RateLimitWindow)

	// Monitoring
	c.EnableMetrics = getEnvAsBool("ENABLE_METRICS", c.EnableMetrics)
	c.EnableTestEndpoints = getEnvAsBool("ENABLE_TEST_ENDPOINTS", c.EnableTestEndpoints)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) Validate() error {
	switch c.Gateway.Provider {
	case "sandbox":
		if c.IsProduction() {
			return fmt.Errorf("config: sandbox gateway provider is not allowed in production")
		}
	case "checkout":
		if c.Gateway.PublicKey == "" || c.Gateway.APIURL == "" {
			return fmt.Errorf("config: checkout provider needs GATEWAY_PUBLIC_KEY and GATEWAY_API_URL")
		}
		if c.PubNubSubscribeKey == "" {
			return fmt.Errorf("config: checkout provider needs PUBNUB_SUBSCRIBE_KEY")
		}
	default:
		return fmt.Errorf("config: unknown gateway provider %q", c.Gateway.Provider)
	}
	if c.IsProduction() && c.EnableTestEndpoints {
		return fmt.Errorf("config: test endpoints cannot be enabled in production")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("config: BACKEND_URL is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	return defaultValue
}
