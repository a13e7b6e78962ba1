// Package cli holds the commands of the nova terminal client.
package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/nova/internal/client"
	"github.com/zhouzirui/nova/internal/config"
	"github.com/zhouzirui/nova/internal/logging"
	"github.com/zhouzirui/nova/internal/storage/session"
)

// flags override the environment configuration.
type flags struct {
	baseURL    string
	transport  string
	sessionDir string
	logFile    string
	timeout    time.Duration
	plain      bool
}

// env is what every command needs: configuration, logger and session store.
type env struct {
	cfg      *config.ClientConfig
	log      zerolog.Logger
	sessions *session.FileStore
	logOut   io.Closer
}

func (e *env) Close() {
	if e.logOut != nil {
		_ = e.logOut.Close()
	}
}

func (e *env) newClient(opts ...client.Option) (*client.Client, error) {
	base := []client.Option{
		client.WithTimeout(e.cfg.RequestTimeout),
		client.WithLogger(e.log.With().Str("component", "client").Logger()),
	}
	return client.New(e.cfg.BaseURL, append(base, opts...)...)
}

func (f *flags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.baseURL, "url", "", "Backend base URL (overrides NOVA_BASE_URL)")
	pf.StringVar(&f.transport, "transport", "", "Progress transport: sse or ws (overrides NOVA_TRANSPORT)")
	pf.StringVar(&f.sessionDir, "session-dir", "", "Directory of the session store (overrides NOVA_SESSION_DIR)")
	pf.StringVar(&f.logFile, "log-file", "", "Log file (overrides NOVA_LOG_FILE)")
	pf.DurationVar(&f.timeout, "timeout", 0, "Request timeout (overrides NOVA_REQUEST_TIMEOUT)")
	pf.BoolVar(&f.plain, "plain", false, "Render answers without colors")
}

// load builds the command environment. Logs go to a file so they never
// interleave with the terminal UI.
func (f *flags) load() (*env, error) {
	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if f.baseURL != "" {
		cfg.BaseURL = f.baseURL
	}
	if f.transport != "" {
		cfg.Transport = f.transport
	}
	if f.sessionDir != "" {
		cfg.SessionDir = f.sessionDir
	}
	if f.logFile != "" {
		cfg.LogFile = f.logFile
	}
	if f.timeout > 0 {
		cfg.RequestTimeout = f.timeout
	}

	e := &env{cfg: cfg, log: zerolog.Nop()}
	if cfg.LogFile != "" && cfg.LogFile != "-" {
		out, err := logging.OpenFile(cfg.LogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		e.logOut = out
		e.log = logging.New(logging.Config{Level: cfg.Log.Level, Output: out})
	}

	sessions, err := session.NewFileStore(cfg.SessionDir)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	e.sessions = sessions
	return e, nil
}

// NewRootCmd builds the nova command tree. Without a subcommand it opens
// the chat.
func NewRootCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "nova",
		Short: "Nova - terminal client of the Nova customer-service assistant",
		Long: `Chat with the Nova assistant from your terminal.

Answers stream in while the backend works on them. Rate answers,
pick a service route and attach images or documents to a question.

Configuration comes from the environment (NOVA_BASE_URL, NOVA_TRANSPORT,
NOVA_SESSION_DIR, ...) or a .env file; flags override both.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(f)
		},
	}
	f.register(cmd)

	cmd.AddCommand(newChatCmd(f))
	cmd.AddCommand(newLoginCmd(f))
	cmd.AddCommand(newLogoutCmd(f))
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
