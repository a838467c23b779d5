package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/agromarket/internal/errs"
	"github.com/and161185/agromarket/internal/marketapi"
	"github.com/and161185/agromarket/internal/model"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agm %s (%s)\n", version, buildDate)
		},
	}
}

type credentials struct {
	email         string
	password      string
	passwordStdin bool
	role          string
	remember      bool
}

func (c *credentials) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&c.email, "email", "e", "", "account email")
	f.StringVarP(&c.password, "password", "p", "", "account password")
	f.BoolVar(&c.passwordStdin, "password-stdin", false, "read the password from stdin")
	f.StringVarP(&c.role, "role", "r", "buyer", "buyer or farmer")
	f.BoolVar(&c.remember, "remember", false, "remember this device for the remember-me window")
	_ = cmd.MarkFlagRequired("email")
}

func (c *credentials) resolvePassword(in io.Reader) error {
	if c.passwordStdin {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		c.password = strings.TrimRight(line, "\r\n")
	}
	if c.password == "" {
		return errors.New("need --password or --password-stdin")
	}
	return nil
}

type identityView struct {
	UserID    string     `json:"userId"`
	Email     string     `json:"email,omitempty"`
	Role      model.Role `json:"userType"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func newLoginCommand(opts *options) *cobra.Command {
	creds := &credentials{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and start a live session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			role, err := parseRoleFlag(creds.role, false)
			if err != nil {
				return err
			}
			if err := creds.resolvePassword(cmd.InOrStdin()); err != nil {
				return err
			}
			a, done, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer done()

			id, err := a.Sessions.Login(cmd.Context(), creds.email, creds.password, role, creds.remember)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), identityView{UserID: id.UserID, Email: id.Email, Role: id.Role})
		},
	}
	creds.bind(cmd)
	return cmd
}

func newSignupCommand(opts *options) *cobra.Command {
	creds := &credentials{}
	var name, phone string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and start a live session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			role, err := parseRoleFlag(creds.role, false)
			if err != nil {
				return err
			}
			if err := creds.resolvePassword(cmd.InOrStdin()); err != nil {
				return err
			}
			a, done, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer done()

			id, err := a.Sessions.Signup(cmd.Context(), marketapi.SignupRequest{
				Name:     name,
				Email:    creds.email,
				Phone:    phone,
				Password: creds.password,
				UserType: role,
			}, creds.remember)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), identityView{UserID: id.UserID, Email: id.Email, Role: id.Role})
		},
	}
	creds.bind(cmd)
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newLogoutCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget this device and clear all session storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, done, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer done()
			if err := a.Sessions.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newAutoLoginCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "autologin",
		Short: "Restore a live session from the remembered device record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, done, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer done()

			id, err := a.Sessions.AutoLogin(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), identityView{UserID: id.UserID, Email: id.Email, Role: id.Role})
		},
	}
}

type statusView struct {
	Live       *identityView `json:"live,omitempty"`
	LiveError  string        `json:"liveError,omitempty"`
	Remembered *identityView `json:"remembered,omitempty"`
	// RememberedError is set for an expired or unreadable record.
	RememberedError string `json:"rememberedError,omitempty"`
}

func newStatusCommand(opts *options) *cobra.Command {
	var roleFlag string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the live and remembered sessions without changing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			role, err := parseRoleFlag(roleFlag, true)
			if err != nil {
				return err
			}
			a, done, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer done()

			var out statusView
			ls, liveErr := a.Sessions.Current(cmd.Context(), role)
			if liveErr == nil {
				exp := ls.ExpiresAt()
				out.Live = &identityView{UserID: ls.UserID, Email: ls.Email, Role: ls.UserType, ExpiresAt: &exp}
			} else {
				out.LiveError = liveErr.Error()
			}
			rs, remErr := a.Remember.Peek(cmd.Context())
			switch {
			case remErr == nil:
				exp := rs.ExpiresAt(a.Remember.Window())
				out.Remembered = &identityView{UserID: rs.UserID, Email: rs.Email, Role: rs.UserType, ExpiresAt: &exp}
			case !errors.Is(remErr, errs.ErrNotFound):
				out.RememberedError = remErr.Error()
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			return liveErr
		},
	}
	cmd.Flags().StringVarP(&roleFlag, "role", "r", "", "buyer, farmer or empty for either")
	return cmd
}

func newTouchCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "touch",
		Short: "Restart the remember-me window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, done, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer done()
			if !a.Remember.Touch(cmd.Context()) {
				return fmt.Errorf("no remembered session: %w", errs.ErrNotFound)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newRememberCommand(opts *options) *cobra.Command {
	var roleFlag string
	cmd := &cobra.Command{
		Use:   "remember",
		Short: "Remember this device for the current live session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			role, err := parseRoleFlag(roleFlag, true)
			if err != nil {
				return err
			}
			a, done, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer done()
			if err := a.Sessions.RememberDevice(cmd.Context(), role); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVarP(&roleFlag, "role", "r", "", "buyer, farmer or empty for either")
	return cmd
}
