package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	ra "github.com/panyam/realtyauth"
	"github.com/panyam/realtyauth/client"
	"github.com/panyam/realtyauth/ui"
)

// withManager runs fn against the CLI session once it has settled
func (a *app) withManager(ctx context.Context, fn func(m *client.SessionManager) error) error {
	var cl closers
	defer cl.Close()

	idp, err := a.cfg.OpenClientIdentity(ctx, &cl, a.logger)
	if err != nil {
		return err
	}
	store, err := a.cfg.OpenSessionStore(ctx, &cl, "cli")
	if err != nil {
		return err
	}
	m := a.cfg.NewManager(idp.Provider, store, a.logger)
	cl.add(m.Close)

	if _, err := m.WaitSettled(ctx); err != nil {
		return err
	}
	return fn(m)
}

// report prints an outcome and turns failures into errors
func report(out ui.Outcome) error {
	if !out.Success {
		return errors.New(out.Message)
	}
	if out.Message != "" {
		fmt.Println(out.Message)
	}
	return nil
}

func newLoginCmd(a *app) *cobra.Command {
	var form ui.LoginForm
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log the CLI session in",
		Long: `Log in with email and password. Missing values are prompted for.

The password can also be passed through REALTY_PASSWORD.

Examples:
  realty login
  realty login --email broker@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if form.Password == "" {
				form.Password = os.Getenv("REALTY_PASSWORD")
			}
			if err := promptLogin(ctx, &form); err != nil {
				return err
			}
			return a.withManager(ctx, func(m *client.SessionManager) error {
				out := form.Submit(ctx, m)
				if out.Dialog == ui.DialogVerification {
					fmt.Println(out.Message)
					resend, err := confirm(ctx, "Send the verification email again?")
					if err != nil {
						return err
					}
					if resend {
						if err := report(ui.VerificationPrompt{Email: out.Email}.Resend(ctx, m)); err != nil {
							return err
						}
					}
					return errors.New("email not verified")
				}
				if err := report(out); err != nil {
					return err
				}
				sess := m.Session()
				fmt.Printf("Logged in as %s (%s). Home: %s\n", sess.UserEmail, sess.UserType, out.Navigate)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&form.Email, "email", "", "account email")
	cmd.Flags().StringVar(&form.Password, "password", "", "account password")
	return cmd
}

func newSignupCmd(a *app) *cobra.Command {
	var form ui.SignupForm
	var userType string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register a new account",
		Long: `Register a buyer, builder or broker account. Admin accounts cannot be
created here. The account has to be verified through the emailed link before
it can log in.

Examples:
  realty signup
  realty signup --name Bo --email bo@example.com --password secret123 --type builder --company Acme`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			form.UserType = ra.UserType(userType)
			if form.Name == "" || form.Email == "" || form.Password == "" {
				if err := promptSignup(ctx, &form); err != nil {
					return err
				}
			} else {
				form.ConfirmPassword = form.Password
			}
			return a.withManager(ctx, func(m *client.SessionManager) error {
				return report(form.Submit(ctx, m))
			})
		},
	}
	cmd.Flags().StringVar(&form.Name, "name", "", "full name")
	cmd.Flags().StringVar(&form.Email, "email", "", "account email")
	cmd.Flags().StringVar(&form.Password, "password", "", "account password")
	cmd.Flags().StringVar(&userType, "type", "", "account type: user, builder or broker")
	cmd.Flags().StringVar(&form.CompanyName, "company", "", "company name (builders)")
	cmd.Flags().StringVar(&form.LicenseNumber, "license", "", "license number (brokers)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log the CLI session out",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(m *client.SessionManager) error {
				m.Logout(cmd.Context())
				fmt.Println("Logged out.")
				return nil
			})
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the CLI session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withManager(ctx, func(m *client.SessionManager) error {
				sess := m.Session()
				if !sess.IsAuthenticated() {
					fmt.Println("Not logged in.")
					fmt.Println("Use 'realty login' to log in.")
					return nil
				}
				fmt.Println("Logged in")
				fmt.Printf("Email:     %s\n", sess.UserEmail)
				fmt.Printf("User type: %s\n", sess.UserType)
				fmt.Printf("Home:      %s\n", sess.UserType.HomeRoute())

				user, err := client.NewBackendClient(a.cfg.BackendURL).Me(ctx, sess.SessionToken)
				if err != nil {
					a.logger.Warn("could not load the account from the backend", "err", err)
					return nil
				}
				fmt.Printf("Name:      %s\n", user.Name)
				if user.CompanyName != "" {
					fmt.Printf("Company:   %s\n", user.CompanyName)
				}
				if user.LicenseNumber != "" {
					fmt.Printf("License:   %s\n", user.LicenseNumber)
				}
				return nil
			})
		},
	}
}

func newResendCmd(a *app) *cobra.Command {
	var prompt ui.VerificationPrompt
	cmd := &cobra.Command{
		Use:   "resend",
		Short: "Send the verification email again",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := promptEmail(ctx, "Email", &prompt.Email); err != nil {
				return err
			}
			return a.withManager(ctx, func(m *client.SessionManager) error {
				return report(prompt.Resend(ctx, m))
			})
		},
	}
	cmd.Flags().StringVar(&prompt.Email, "email", "", "account email")
	return cmd
}
