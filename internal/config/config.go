package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates the settings of the backend server.
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Auth      AuthConfig
	Upload    UploadConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Task      TaskConfig
	Log       LogConfig
}

// Load reads the backend configuration from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	upload, err := loadUploadConfig()
	if err != nil {
		return nil, err
	}

	rateLimit, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	task, err := loadTaskConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		AI:        ai,
		Auth:      auth,
		Upload:    upload,
		Redis:     RedisConfig{URL: strings.TrimSpace(os.Getenv("REDIS_URL"))},
		RateLimit: rateLimit,
		Task:      task,
		Log:       logCfg,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" and "127.0.0.1:8080" as given.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the Ark chat model that writes answers.
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY and Model, or ARK_ACCESS_KEY and ARK_SECRET_KEY")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("Model")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}, nil
}

// UserSpec is one account seeded from AUTH_USERS.
type UserSpec struct {
	Username string
	Password string
	Name     string
	Email    string
}

// AuthConfig describes login accounts and token signing.
type AuthConfig struct {
	Users     []UserSpec
	JWTSecret string
	TokenTTL  time.Duration
}

// DevSecret signs tokens when AUTH_JWT_SECRET is unset.
const DevSecret = "nova-dev-secret"

func loadAuthConfig() (AuthConfig, error) {
	users, err := parseUsers(getEnvOrDefault("AUTH_USERS", "demo:demo"))
	if err != nil {
		return AuthConfig{}, err
	}

	ttl, err := parseDurationEnv("AUTH_TOKEN_TTL", 12*time.Hour)
	if err != nil {
		return AuthConfig{}, err
	}

	return AuthConfig{
		Users:     users,
		JWTSecret: getEnvOrDefault("AUTH_JWT_SECRET", DevSecret),
		TokenTTL:  ttl,
	}, nil
}

// parseUsers reads "user:password[:name[:email]]" entries separated by commas.
func parseUsers(raw string) ([]UserSpec, error) {
	var users []UserSpec
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 4)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid AUTH_USERS entry %q: want user:password[:name[:email]]", entry)
		}
		user := UserSpec{Username: parts[0], Password: parts[1], Name: parts[0], Email: parts[0]}
		if len(parts) > 2 && parts[2] != "" {
			user.Name = parts[2]
		}
		if len(parts) > 3 && parts[3] != "" {
			user.Email = parts[3]
		}
		users = append(users, user)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("AUTH_USERS defines no accounts")
	}
	return users, nil
}

// UploadConfig describes where uploads are kept and how large they may be.
type UploadConfig struct {
	Dir      string
	MaxBytes int64
}

func loadUploadConfig() (UploadConfig, error) {
	maxBytes := int64(10 << 20)
	if override, err := parseOptionalIntEnv("UPLOAD_MAX_BYTES"); err != nil {
		return UploadConfig{}, err
	} else if override != nil {
		if *override <= 0 {
			return UploadConfig{}, fmt.Errorf("invalid UPLOAD_MAX_BYTES value %d: must be positive", *override)
		}
		maxBytes = int64(*override)
	}

	return UploadConfig{
		Dir:      getEnvOrDefault("UPLOAD_DIR", "uploads"),
		MaxBytes: maxBytes,
	}, nil
}

// RedisConfig points the feedback repository at Redis. An empty URL keeps
// feedback in memory.
type RedisConfig struct {
	URL string
}

// Enabled reports whether a Redis URL was configured.
func (c RedisConfig) Enabled() bool { return c.URL != "" }

// RateLimitConfig bounds per-client request rates on login and task start.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	cfg := RateLimitConfig{RPS: 2, Burst: 5}

	rps, err := parseOptionalFloatEnv("RATE_LIMIT_RPS")
	if err != nil {
		return RateLimitConfig{}, err
	}
	if rps != nil {
		cfg.RPS = *rps
	}

	burst, err := parseOptionalIntEnv("RATE_LIMIT_BURST")
	if err != nil {
		return RateLimitConfig{}, err
	}
	if burst != nil {
		cfg.Burst = *burst
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return cfg, nil
}

// TaskConfig tunes the task runner.
type TaskConfig struct {
	StepDelay time.Duration
	Timeout   time.Duration
	Retention time.Duration
}

func loadTaskConfig() (TaskConfig, error) {
	step, err := parseDurationEnv("TASK_STEP_DELAY", 600*time.Millisecond)
	if err != nil {
		return TaskConfig{}, err
	}
	timeout, err := parseDurationEnv("TASK_TIMEOUT", 2*time.Minute)
	if err != nil {
		return TaskConfig{}, err
	}
	retention, err := parseDurationEnv("TASK_RETENTION", 10*time.Minute)
	if err != nil {
		return TaskConfig{}, err
	}
	return TaskConfig{StepDelay: step, Timeout: timeout, Retention: retention}, nil
}

// LogConfig describes the logger of either program.
type LogConfig struct {
	Level  string
	Pretty bool
}

func loadLogConfig() (LogConfig, error) {
	pretty, err := parseBoolEnv("LOG_PRETTY", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{Level: getEnvOrDefault("LOG_LEVEL", "info"), Pretty: pretty}, nil
}
