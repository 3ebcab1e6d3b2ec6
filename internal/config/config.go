package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	WarehouseBigQuery = "bigquery"
	WarehouseDuckDB   = "duckdb"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Warehouse     WarehouseConfig
	Generation    GenerationConfig
	AI            AIConfig
	Sandbox       SandboxConfig
	Audit         AuditConfig
	ObjectStore   ObjectStoreConfig
	Export        ExportConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// WarehouseConfig holds the dataset scope and the backend that serves it.
type WarehouseConfig struct {
	Backend           string
	Project           string
	Dataset           string
	Location          string
	AllowCrossDataset bool
	CredentialsFile   string
	DuckDBPrefix      string
}

// GenerationConfig carries sampling parameters forwarded to the generator.
type GenerationConfig struct {
	Temperature     float64
	MaxOutputTokens int
	TopP            float64
	TopK            int
	VertexProject   string
	VertexLocation  string
	VertexModel     string
}

type AIConfig struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type SandboxConfig struct {
	MaxSteps uint64
	Timeout  time.Duration
}

type AuditConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ExportConfig struct {
	Enabled bool
	Prefix  string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
	Verbose  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("DATA_AGENT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid DATA_AGENT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	var sandboxSteps int
	appliers := []func() error{
		func() error { return applyString(lookup, "DATA_AGENT_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "DATA_AGENT_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "DATA_AGENT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "DATA_AGENT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "DATA_AGENT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "DATA_AGENT_WAREHOUSE", &cfg.Warehouse.Backend) },
		func() error { return applyString(lookup, "BQ_PROJECT", &cfg.Warehouse.Project) },
		func() error { return applyString(lookup, "BQ_DATASET", &cfg.Warehouse.Dataset) },
		func() error { return applyString(lookup, "BQ_LOCATION", &cfg.Warehouse.Location) },
		func() error { return applyFlag(lookup, "ALLOW_CROSS_DATASET", &cfg.Warehouse.AllowCrossDataset) },
		func() error { return applyString(lookup, "BQ_CREDENTIALS_FILE", &cfg.Warehouse.CredentialsFile) },
		func() error { return applyString(lookup, "DATA_AGENT_DUCKDB_PREFIX", &cfg.Warehouse.DuckDBPrefix) },

		func() error { return applyFloat(lookup, "GEN_TEMPERATURE", &cfg.Generation.Temperature) },
		func() error { return applyInt(lookup, "GEN_MAX_TOKENS", &cfg.Generation.MaxOutputTokens) },
		func() error { return applyFloat(lookup, "GEN_TOP_P", &cfg.Generation.TopP) },
		func() error { return applyInt(lookup, "GEN_TOP_K", &cfg.Generation.TopK) },
		func() error { return applyString(lookup, "VERTEX_PROJECT", &cfg.Generation.VertexProject) },
		func() error { return applyString(lookup, "VERTEX_LOCATION", &cfg.Generation.VertexLocation) },
		func() error { return applyString(lookup, "VERTEX_MODEL_NAME", &cfg.Generation.VertexModel) },

		func() error { return applyBool(lookup, "DATA_AGENT_AI_ENABLED", &cfg.AI.Enabled) },
		func() error { return applyString(lookup, "DATA_AGENT_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "DATA_AGENT_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "DATA_AGENT_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyDuration(lookup, "DATA_AGENT_AI_TIMEOUT", &cfg.AI.Timeout) },

		func() error { return applyInt(lookup, "DATA_AGENT_SANDBOX_MAX_STEPS", &sandboxSteps) },
		func() error { return applyDuration(lookup, "DATA_AGENT_SANDBOX_TIMEOUT", &cfg.Sandbox.Timeout) },

		func() error { return applyString(lookup, "DATA_AGENT_AUDIT_DSN", &cfg.Audit.DSN) },
		func() error { return applyInt(lookup, "DATA_AGENT_AUDIT_MAX_OPEN_CONNS", &cfg.Audit.MaxOpenConns) },
		func() error { return applyInt(lookup, "DATA_AGENT_AUDIT_MAX_IDLE_CONNS", &cfg.Audit.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "DATA_AGENT_AUDIT_CONN_MAX_IDLE_TIME", &cfg.Audit.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "DATA_AGENT_AUDIT_CONN_MAX_LIFETIME", &cfg.Audit.ConnMaxLifetime)
		},

		func() error { return applyString(lookup, "DATA_AGENT_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "DATA_AGENT_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "DATA_AGENT_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "DATA_AGENT_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "DATA_AGENT_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "DATA_AGENT_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "DATA_AGENT_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "DATA_AGENT_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},

		func() error { return applyBool(lookup, "DATA_AGENT_EXPORT_ENABLED", &cfg.Export.Enabled) },
		func() error { return applyString(lookup, "DATA_AGENT_EXPORT_PREFIX", &cfg.Export.Prefix) },

		func() error { return applyBool(lookup, "DATA_AGENT_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "DATA_AGENT_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyFlag(lookup, "DATA_AGENT_VERBOSE", &cfg.Observability.Verbose) },

		func() error { return applyBool(lookup, "DATA_AGENT_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "DATA_AGENT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}
	if sandboxSteps < 0 {
		return Config{}, fmt.Errorf("invalid DATA_AGENT_SANDBOX_MAX_STEPS: must be >= 0")
	}
	if sandboxSteps > 0 {
		cfg.Sandbox.MaxSteps = uint64(sandboxSteps)
	}

	cfg.Warehouse.Backend = strings.ToLower(cfg.Warehouse.Backend)
	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Warehouse.Project == "" || cfg.Warehouse.Dataset == "" {
		return Config{}, fmt.Errorf("BQ_PROJECT and BQ_DATASET are required")
	}
	switch cfg.Warehouse.Backend {
	case WarehouseBigQuery, WarehouseDuckDB:
	default:
		return Config{}, fmt.Errorf("invalid DATA_AGENT_WAREHOUSE: %q", cfg.Warehouse.Backend)
	}
	if cfg.Generation.MaxOutputTokens <= 0 {
		return Config{}, fmt.Errorf("invalid GEN_MAX_TOKENS: must be > 0")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "dataagent"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Warehouse: WarehouseConfig{
			Backend:           WarehouseBigQuery,
			Project:           "ruckusoperations",
			Dataset:           "SDC1",
			Location:          "US",
			AllowCrossDataset: false,
			DuckDBPrefix:      "warehouse",
		},
		Generation: GenerationConfig{
			Temperature:     0.2,
			MaxOutputTokens: 1024,
			TopP:            0.95,
			TopK:            40,
			VertexLocation:  "us-central1",
			VertexModel:     "gemini-1.5-flash",
		},
		AI: AIConfig{
			Enabled: false,
			BaseURL: "https://api.openai.com",
			Model:   "gpt-5",
			Timeout: 30 * time.Second,
		},
		Sandbox: SandboxConfig{
			MaxSteps: 5_000_000,
			Timeout:  10 * time.Second,
		},
		Audit: AuditConfig{
			DSN:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "dataagent",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Export: ExportConfig{
			Enabled: false,
			Prefix:  "exports",
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
			Verbose:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

// applyFlag is the lenient form used by the legacy toggles: 1/true/yes/on
// enable, anything else disables.
func applyFlag(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		*dst = true
	default:
		*dst = false
	}
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
