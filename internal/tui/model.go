// Package tui is the terminal front end of the chat client.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/nova/internal/model/auth"
	model "github.com/zhouzirui/nova/internal/model/feedback"
	"github.com/zhouzirui/nova/internal/model/upload"
	"github.com/zhouzirui/nova/internal/service/conversation"
)

// Authenticator logs a user in.
type Authenticator interface {
	Login(ctx context.Context, creds auth.Credentials) (auth.Profile, error)
}

// Conversation is the chat state the UI renders and drives.
type Conversation interface {
	Snapshot() conversation.Snapshot
	Updates() <-chan struct{}
	Submit(text string) error
	SelectService(value string) error
	Attach(ctx context.Context, path string) (upload.File, error)
	Reset() error
	Close()
}

// Feedback drives the like/dislike controls of answers.
type Feedback interface {
	View(messageID string) model.View
	Like(messageID string) error
	Dislike(messageID string) error
	SetReason(messageID, reason string)
	CancelReason(messageID string)
	Confirm(messageID string) error
}

// ConnectFunc opens the conversation of a logged-in user.
type ConnectFunc func(profile auth.Profile) (Conversation, Feedback, error)

// Options wires the UI to the rest of the client.
type Options struct {
	Auth    Authenticator
	Connect ConnectFunc
	// Logout forgets the stored session after /logout.
	Logout func()
	// Expired clears the stored auth session after a 401.
	Expired func()
	// Profile skips the login screen when a session was stored earlier.
	Profile *auth.Profile
	// Plain disables colors in rendered markdown.
	Plain          bool
	RequestTimeout time.Duration
	Log            zerolog.Logger
}

type screen int

const (
	screenLogin screen = iota
	screenConnecting
	screenChat
)

type focus int

const (
	focusInput focus = iota
	focusTranscript
	focusReason
)

const (
	defaultWidth  = 80
	defaultHeight = 24
	inputHeight   = 3
)

// Model is the Bubble Tea model of the client.
type Model struct {
	opts Options
	log  zerolog.Logger

	screen   screen
	notice   string
	lastErr  error
	quitting bool

	// Login screen.
	username   textinput.Model
	password   textinput.Model
	loginFocus int
	loggingIn  bool

	// Chat screen.
	profile  auth.Profile
	conv     Conversation
	fb       Feedback
	gen      int
	snap     conversation.Snapshot
	focus    focus
	selected string
	reasonID string
	expanded map[string]bool

	input    textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	renderer *glamour.TermRenderer
	rendered map[string]string
	width    int
	height   int
}

// New builds the UI model. It starts on the login screen unless
// opts.Profile carries a token.
func New(opts Options) (Model, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Logout == nil {
		opts.Logout = func() {}
	}
	if opts.Expired == nil {
		opts.Expired = func() {}
	}

	username := textinput.New()
	username.Placeholder = "username"
	username.CharLimit = 64
	username.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'
	password.CharLimit = 128

	input := textarea.New()
	input.Placeholder = "Describe your issue..."
	input.ShowLineNumbers = false
	input.CharLimit = 4000
	input.SetHeight(inputHeight)
	input.SetWidth(defaultWidth)
	input.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusStyle

	m := Model{
		opts:     opts,
		log:      opts.Log,
		screen:   screenLogin,
		username: username,
		password: password,
		expanded: make(map[string]bool),
		rendered: make(map[string]string),
		input:    input,
		viewport: viewport.New(defaultWidth, defaultHeight-inputHeight-4),
		spinner:  sp,
		width:    defaultWidth,
		height:   defaultHeight,
	}
	if err := m.setRenderer(defaultWidth); err != nil {
		return Model{}, err
	}
	if opts.Profile != nil && opts.Profile.Token != "" {
		m.profile = *opts.Profile
		m.screen = screenConnecting
	}
	return m, nil
}

// Init starts the spinner and, with a stored session, connects right away.
func (m Model) Init() tea.Cmd {
	if m.screen == screenConnecting {
		return tea.Batch(m.spinner.Tick, connectCmd(m.opts.Connect, m.profile))
	}
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Conversation returns the open conversation, if any.
func (m Model) Conversation() Conversation {
	return m.conv
}

func (m *Model) setRenderer(width int) error {
	wrap := width - 4
	if wrap < 20 {
		wrap = 20
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(wrap)}
	if m.opts.Plain {
		opts = append(opts, glamour.WithStylePath("notty"))
	} else {
		opts = append(opts, glamour.WithAutoStyle())
	}
	renderer, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return err
	}
	m.renderer = renderer
	m.rendered = make(map[string]string)
	return nil
}
