// Package config handles application configuration loading from a YAML file
// with environment variable overrides.
package config

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"reflect"
	"strconv"
	"strings"

	contextutils "feedbacksync/internal/utils"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// StoreConfig represents document store configuration
type StoreConfig struct {
	ProjectID string `json:"project_id" yaml:"project_id"`
	// CredentialsJSON is a base64-encoded service account document. Takes
	// precedence over CredentialsFile when both are set.
	CredentialsJSON       string `json:"credentials_json" yaml:"credentials_json"`
	CredentialsFile       string `json:"credentials_file" yaml:"credentials_file"`
	FeedbackCollection    string `json:"feedback_collection" yaml:"feedback_collection"`
	ScreenshotsCollection string `json:"screenshots_collection" yaml:"screenshots_collection"`
	ChunksCollection      string `json:"chunks_collection" yaml:"chunks_collection"`
}

// GitHubConfig represents issue tracker configuration
type GitHubConfig struct {
	Token string `json:"token" yaml:"token"`
	Owner string `json:"owner" yaml:"owner"`
	Repo  string `json:"repo" yaml:"repo"`
	// BaseURL overrides the API endpoint, used by tests and GHE deployments.
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// SyncConfig represents sync driver tuning
type SyncConfig struct {
	PendingBatchSize int `json:"pending_batch_size" yaml:"pending_batch_size" validate:"min=1,max=500"`
	RetryBatchSize   int `json:"retry_batch_size" yaml:"retry_batch_size" validate:"min=1,max=500"`
	RetryCeiling     int `json:"retry_ceiling" yaml:"retry_ceiling" validate:"min=1,max=10"`
}

// ExportConfig represents report exporter output locations
type ExportConfig struct {
	BatchSize int    `json:"batch_size" yaml:"batch_size" validate:"min=1,max=1000"`
	OutputDir string `json:"output_dir" yaml:"output_dir"`
}

// ScreenshotsConfig represents local screenshot persistence
type ScreenshotsConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

// OpenTelemetryConfig represents observability configuration
type OpenTelemetryConfig struct {
	Endpoint       string            `json:"endpoint" yaml:"endpoint"`               // Default: "http://localhost:4317"
	Protocol       string            `json:"protocol" yaml:"protocol"`               // "grpc" or "http", default: "grpc"
	Insecure       bool              `json:"insecure" yaml:"insecure"`               // Default: true (for localhost)
	Headers        map[string]string `json:"headers" yaml:"headers"`                 // For authenticated endpoints
	ServiceName    string            `json:"service_name" yaml:"service_name"`       // Default: "feedbacksync"
	ServiceVersion string            `json:"service_version" yaml:"service_version"` // From version package
	EnableTracing  bool              `json:"enable_tracing" yaml:"enable_tracing"`
	EnableMetrics  bool              `json:"enable_metrics" yaml:"enable_metrics"`
	EnableLogging  bool              `json:"enable_logging" yaml:"enable_logging"`
	UseAutoSDK     bool              `json:"use_auto_sdk" yaml:"use_auto_sdk"`
	SamplingRate   float64           `json:"sampling_rate" yaml:"sampling_rate"` // Default: 1.0 (100%)
	// LogFile, when set, is appended to the zap output paths so runs leave a
	// local log trail alongside stdout.
	LogFile string `json:"log_file" yaml:"log_file"`
}

// Config holds all configuration for the application
type Config struct {
	Store         StoreConfig         `json:"store" yaml:"store"`
	GitHub        GitHubConfig        `json:"github" yaml:"github"`
	Sync          SyncConfig          `json:"sync" yaml:"sync"`
	Export        ExportConfig        `json:"export" yaml:"export"`
	Screenshots   ScreenshotsConfig   `json:"screenshots" yaml:"screenshots"`
	OpenTelemetry OpenTelemetryConfig `json:"open_telemetry" yaml:"open_telemetry"`
	LogLevel      string              `json:"log_level" yaml:"log_level"`
}

// ServiceAccount is the parsed service-account credential document. ProjectID,
// PrivateKey, and ClientEmail are the fields the store client actually needs;
// missing any of them is a fatal startup error.
type ServiceAccount struct {
	ProjectID   string `json:"project_id"`
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
}

// NewConfig loads configuration from the YAML file first, then overrides with
// environment variables, then applies defaults and validates.
func NewConfig() (result0 *Config, err error) {
	config, err := loadConfigWithOverrides()
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config: %w", err)
	}

	config.overrideFromEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyDefaults fills zero values with the documented defaults
func (c *Config) applyDefaults() {
	if c.Store.FeedbackCollection == "" {
		c.Store.FeedbackCollection = "feedback"
	}
	if c.Store.ScreenshotsCollection == "" {
		c.Store.ScreenshotsCollection = "screenshots"
	}
	if c.Store.ChunksCollection == "" {
		c.Store.ChunksCollection = "chunks"
	}
	if c.Sync.PendingBatchSize == 0 {
		c.Sync.PendingBatchSize = 50
	}
	if c.Sync.RetryBatchSize == 0 {
		c.Sync.RetryBatchSize = 50
	}
	if c.Sync.RetryCeiling == 0 {
		c.Sync.RetryCeiling = 3
	}
	if c.Export.BatchSize == 0 {
		c.Export.BatchSize = 200
	}
	if c.Export.OutputDir == "" {
		c.Export.OutputDir = "export"
	}
	if c.Screenshots.Dir == "" {
		c.Screenshots.Dir = "screenshots"
	}
	if c.OpenTelemetry.Protocol == "" {
		c.OpenTelemetry.Protocol = "grpc"
	}
	if c.OpenTelemetry.ServiceName == "" {
		c.OpenTelemetry.ServiceName = "feedbacksync"
	}
	if c.OpenTelemetry.SamplingRate == 0 {
		c.OpenTelemetry.SamplingRate = 1.0
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks struct constraints. Failures here are fatal: the process
// must exit before any record processing starts.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeValidationFailed,
			contextutils.SeverityFatal,
			"configuration validation failed",
			err.Error(),
			err,
		)
	}
	return nil
}

// RequireStore checks the fields the document store client cannot run without.
func (c *Config) RequireStore() error {
	if c.Store.ProjectID == "" {
		return contextutils.NewAppError(
			contextutils.ErrorCodeMissingRequired,
			contextutils.SeverityFatal,
			"store.project_id is required",
			"",
		)
	}
	return nil
}

// RequireGitHub checks the fields the sync path cannot run without. The export
// path never talks to the issue tracker, so it skips this check.
func (c *Config) RequireGitHub() error {
	var missing []string
	if c.GitHub.Token == "" {
		missing = append(missing, "github.token")
	}
	if c.GitHub.Owner == "" {
		missing = append(missing, "github.owner")
	}
	if c.GitHub.Repo == "" {
		missing = append(missing, "github.repo")
	}
	if len(missing) > 0 {
		return contextutils.NewAppError(
			contextutils.ErrorCodeMissingRequired,
			contextutils.SeverityFatal,
			"issue tracker configuration is incomplete",
			strings.Join(missing, ", "),
		)
	}
	return nil
}

// LoadServiceAccount decodes and parses the configured service-account
// document. The base64-inline form wins over the file path form.
func (c *Config) LoadServiceAccount() (result0 *ServiceAccount, result1 []byte, err error) {
	var raw []byte

	switch {
	case c.Store.CredentialsJSON != "":
		raw, err = base64.StdEncoding.DecodeString(c.Store.CredentialsJSON)
		if err != nil {
			return nil, nil, contextutils.NewAppErrorWithCause(
				contextutils.ErrorCodeInvalidCredentials,
				contextutils.SeverityFatal,
				"service account credentials are not valid base64",
				err.Error(),
				err,
			)
		}
	case c.Store.CredentialsFile != "":
		raw, err = os.ReadFile(c.Store.CredentialsFile)
		if err != nil {
			return nil, nil, contextutils.NewAppErrorWithCause(
				contextutils.ErrorCodeInvalidCredentials,
				contextutils.SeverityFatal,
				"failed to read service account credentials file",
				err.Error(),
				err,
			)
		}
	default:
		return nil, nil, contextutils.NewAppError(
			contextutils.ErrorCodeInvalidCredentials,
			contextutils.SeverityFatal,
			"no service account credentials configured",
			"set store.credentials_json or store.credentials_file",
		)
	}

	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, nil, contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeInvalidCredentials,
			contextutils.SeverityFatal,
			"service account credentials are not valid JSON",
			err.Error(),
			err,
		)
	}

	var missing []string
	if sa.ProjectID == "" {
		missing = append(missing, "project_id")
	}
	if sa.PrivateKey == "" {
		missing = append(missing, "private_key")
	}
	if sa.ClientEmail == "" {
		missing = append(missing, "client_email")
	}
	if len(missing) > 0 {
		return nil, nil, contextutils.NewAppError(
			contextutils.ErrorCodeInvalidCredentials,
			contextutils.SeverityFatal,
			"service account credentials are missing required fields",
			strings.Join(missing, ", "),
		)
	}

	return &sa, raw, nil
}

// overrideFromEnv overrides config values with environment variables using reflection
func (c *Config) overrideFromEnv() {
	overrideStructFromEnvWithPrefix(c, "FEEDBACKSYNC")
}

// overrideStructFromEnvWithPrefix recursively overrides struct fields with
// environment variables derived from yaml tags, e.g. FEEDBACKSYNC_GITHUB_TOKEN.
func overrideStructFromEnvWithPrefix(v interface{}, prefix string) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if !field.CanSet() {
			continue
		}

		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		yamlTag = strings.Split(yamlTag, ",")[0]

		envKey := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
		if prefix != "" {
			envKey = prefix + "_" + envKey
		}

		switch field.Kind() {
		case reflect.String:
			if envVal := os.Getenv(envKey); envVal != "" {
				field.SetString(envVal)
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if intVal, err := strconv.ParseInt(envVal, 10, 64); err == nil {
					field.SetInt(intVal)
				}
			}
		case reflect.Float32, reflect.Float64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if floatVal, err := strconv.ParseFloat(envVal, 64); err == nil {
					field.SetFloat(floatVal)
				}
			}
		case reflect.Bool:
			if envVal := os.Getenv(envKey); envVal != "" {
				if boolVal, err := strconv.ParseBool(envVal); err == nil {
					field.SetBool(boolVal)
				}
			}
		case reflect.Slice:
			if envVal := os.Getenv(envKey); envVal != "" {
				if field.Type().Elem().Kind() == reflect.String {
					slice := strings.Split(envVal, ",")
					field.Set(reflect.ValueOf(slice))
				}
			}
		case reflect.Struct:
			if field.CanAddr() {
				overrideStructFromEnvWithPrefix(field.Addr().Interface(), envKey)
			}
		case reflect.Ptr:
			if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
				overrideStructFromEnvWithPrefix(field.Interface(), envKey)
			}
		}
	}
}

// loadConfigWithOverrides loads the config file referenced by the environment,
// falling back to config.yaml in the working directory. A missing default file
// is not an error: env vars alone can fully configure a run.
func loadConfigWithOverrides() (result0 *Config, err error) {
	if envPath := os.Getenv("FEEDBACKSYNC_CONFIG_FILE"); envPath != "" {
		config, err := loadConfigFromFile(envPath)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config from %s: %w", envPath, err)
		}
		return config, nil
	}

	config, err := loadConfigFromFile("config.yaml")
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	return config, nil
}

// loadConfigFromFile loads configuration from a specific file
func loadConfigFromFile(path string) (result0 *Config, err error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(yamlFile, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
