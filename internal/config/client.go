package config

import (
	"os"
	"path/filepath"
	"time"
)

// ClientConfig holds the settings of the nova terminal client.
type ClientConfig struct {
	BaseURL          string
	Transport        string
	SessionDir       string
	FeedbackDebounce time.Duration
	ConfirmTTL       time.Duration
	RequestTimeout   time.Duration
	Services         bool
	LogFile          string
	Log              LogConfig
}

// LoadClient reads the client configuration from the environment.
func LoadClient() (*ClientConfig, error) {
	debounce, err := parseDurationEnv("NOVA_FEEDBACK_DEBOUNCE", 400*time.Millisecond)
	if err != nil {
		return nil, err
	}

	confirm, err := parseDurationEnv("NOVA_CONFIRM_TTL", 3*time.Second)
	if err != nil {
		return nil, err
	}

	timeout, err := parseDurationEnv("NOVA_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	services, err := parseBoolEnv("NOVA_SERVICES", true)
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}
	if os.Getenv("LOG_LEVEL") == "" {
		logCfg.Level = "debug"
	}

	transport := getEnvOrDefault("NOVA_TRANSPORT", "sse")
	if err := validateTransport(transport); err != nil {
		return nil, err
	}

	return &ClientConfig{
		BaseURL:          getEnvOrDefault("NOVA_BASE_URL", "http://localhost:8080"),
		Transport:        transport,
		SessionDir:       getEnvOrDefault("NOVA_SESSION_DIR", filepath.Join(os.TempDir(), "nova-session")),
		FeedbackDebounce: debounce,
		ConfirmTTL:       confirm,
		RequestTimeout:   timeout,
		Services:         services,
		LogFile:          getEnvOrDefault("NOVA_LOG_FILE", filepath.Join(os.TempDir(), "nova.log")),
		Log:              logCfg,
	}, nil
}
