package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/nova/internal/client"
	"github.com/zhouzirui/nova/internal/model/auth"
	"github.com/zhouzirui/nova/internal/storage/session"
)

func newLoginCmd(f *flags) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Long: `Log in to the backend and keep the returned token in the session store,
so the next chat opens without the login screen.

Missing credentials are read from standard input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := f.load()
			if err != nil {
				return err
			}
			defer e.Close()

			creds, err := promptCredentials(cmd.InOrStdin(), cmd.OutOrStdout(), username, password)
			if err != nil {
				return err
			}

			c, err := e.newClient()
			if err != nil {
				return err
			}
			profile, err := login(cmd.Context(), c, e.sessions, creds)
			if err != nil {
				return err
			}
			cmd.Printf("Logged in as %s.\n", profile.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	return cmd
}

func newLogoutCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := f.load()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := clearSession(e.sessions); err != nil {
				return fmt.Errorf("failed to clear the session: %w", err)
			}
			cmd.Println("Logged out.")
			return nil
		},
	}
}

// login exchanges creds for a profile and stores it.
func login(ctx context.Context, c *client.Client, store session.Store, creds auth.Credentials) (auth.Profile, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	profile, err := c.Login(ctx, creds)
	if errors.Is(err, client.ErrUnauthorized) {
		return auth.Profile{}, errors.New("invalid username or password")
	}
	if err != nil {
		return auth.Profile{}, fmt.Errorf("login failed: %w", err)
	}
	if err := saveProfile(store, profile); err != nil {
		return auth.Profile{}, fmt.Errorf("failed to store the session: %w", err)
	}
	return profile, nil
}

// promptCredentials asks on out for whatever the flags left empty.
func promptCredentials(in io.Reader, out io.Writer, username, password string) (auth.Credentials, error) {
	r := bufio.NewReader(in)
	ask := func(label string) (string, error) {
		_, _ = fmt.Fprintf(out, "%s: ", label)
		line, err := r.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	var err error
	if username == "" {
		if username, err = ask("Username"); err != nil {
			return auth.Credentials{}, err
		}
	}
	if password == "" {
		if password, err = ask("Password"); err != nil {
			return auth.Credentials{}, err
		}
	}

	creds := auth.Credentials{Username: strings.TrimSpace(username), Password: password}
	if creds.Username == "" || creds.Password == "" {
		return auth.Credentials{}, errors.New("username and password are required")
	}
	return creds, nil
}
