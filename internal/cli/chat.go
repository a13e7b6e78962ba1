package cli

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/nova/internal/client"
	"github.com/zhouzirui/nova/internal/model/auth"
	"github.com/zhouzirui/nova/internal/model/catalog"
	"github.com/zhouzirui/nova/internal/service/conversation"
	"github.com/zhouzirui/nova/internal/service/feedback"
	"github.com/zhouzirui/nova/internal/tui"
)

func newChatCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the chat (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(f)
		},
	}
}

func runChat(f *flags) error {
	e, err := f.load()
	if err != nil {
		return err
	}
	defer e.Close()

	profile, err := loadProfile(e.sessions)
	if err != nil {
		e.log.Warn().Err(err).Msg("ignoring unreadable stored profile")
		profile = nil
	}

	var program atomic.Pointer[tea.Program]
	expired := func() {
		if err := clearProfile(e.sessions); err != nil {
			e.log.Warn().Err(err).Msg("clear stored profile")
		}
	}
	logout := func() {
		if err := clearSession(e.sessions); err != nil {
			e.log.Warn().Err(err).Msg("clear stored session")
		}
	}

	var c *client.Client
	c, err = e.newClient(client.OnUnauthorized(func() {
		c.SetToken("")
		expired()
		if p := program.Load(); p != nil {
			// Send blocks until the event loop reads it; never block the caller.
			go p.Send(tui.UnauthorizedMsg{})
		}
	}))
	if err != nil {
		return err
	}
	if profile != nil {
		c.SetToken(profile.Token)
	}

	transport, err := client.NewTransport(c, e.cfg.Transport)
	if err != nil {
		return err
	}

	connect := func(p auth.Profile) (tui.Conversation, tui.Feedback, error) {
		c.SetToken(p.Token)
		if err := saveProfile(e.sessions, p); err != nil {
			e.log.Warn().Err(err).Msg("store profile")
		}

		opts := []conversation.Option{
			conversation.WithLogger(e.log.With().Str("component", "conversation").Logger()),
			conversation.WithStartTimeout(e.cfg.RequestTimeout),
			conversation.WithFeedbackConfig(feedback.Config{
				Debounce:   e.cfg.FeedbackDebounce,
				ConfirmFor: e.cfg.ConfirmTTL,
				Timeout:    e.cfg.RequestTimeout,
			}),
		}
		if e.cfg.Services {
			opts = append(opts, conversation.WithServices(listServices(c, e)))
		}

		ctrl := conversation.New(c, transport, e.sessions, opts...)
		return ctrl, ctrl.Feedback(), nil
	}

	m, err := tui.New(tui.Options{
		Auth:           c,
		Connect:        connect,
		Logout:         logout,
		Expired:        expired,
		Profile:        profile,
		Plain:          f.plain || os.Getenv("NO_COLOR") != "",
		RequestTimeout: e.cfg.RequestTimeout,
		Log:            e.log.With().Str("component", "tui").Logger(),
	})
	if err != nil {
		return fmt.Errorf("failed to build the terminal UI: %w", err)
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	program.Store(p)

	final, err := p.Run()
	if fm, ok := final.(tui.Model); ok {
		if conv := fm.Conversation(); conv != nil {
			conv.Close()
		}
	}
	if err != nil {
		return fmt.Errorf("terminal UI: %w", err)
	}
	return nil
}

// listServices fetches the service routes, falling back to the built-in
// list when the backend does not expose them.
func listServices(c *client.Client, e *env) []catalog.Service {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RequestTimeout)
	defer cancel()

	services, err := c.ListServices(ctx)
	if err != nil || len(services) == 0 {
		e.log.Warn().Err(err).Msg("list services failed, using the built-in routes")
		return catalog.Seed()
	}
	return services
}
