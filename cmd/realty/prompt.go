package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	ra "github.com/panyam/realtyauth"
	"github.com/panyam/realtyauth/ui"
)

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func runForm(ctx context.Context, groups ...*huh.Group) error {
	if err := huh.NewForm(groups...).RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return context.Canceled
		}
		return fmt.Errorf("prompt failed: %w", err)
	}
	return nil
}

// promptLogin asks for whatever the login form is missing
func promptLogin(ctx context.Context, f *ui.LoginForm) error {
	var fields []huh.Field
	if f.Email == "" {
		fields = append(fields, huh.NewInput().Title("Email").Value(&f.Email).Validate(required("email")))
	}
	if f.Password == "" {
		fields = append(fields, huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&f.Password).Validate(required("password")))
	}
	if len(fields) == 0 {
		return nil
	}
	return runForm(ctx, huh.NewGroup(fields...).Title("Log in"))
}

// promptSignup fills in the signup form. Role fields are only asked for their role.
func promptSignup(ctx context.Context, f *ui.SignupForm) error {
	var types []huh.Option[ra.UserType]
	for _, t := range ra.AllUserTypes() {
		if t.SelfRegistrable() {
			types = append(types, huh.NewOption(strings.ToUpper(string(t[:1]))+string(t[1:]), t))
		}
	}
	if f.UserType == "" {
		f.UserType = ra.UserTypeUser
	}

	account := huh.NewGroup(
		huh.NewInput().Title("Name").Value(&f.Name).Validate(required("name")),
		huh.NewInput().Title("Email").Value(&f.Email).Validate(required("email")),
		huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&f.Password).Validate(required("password")),
		huh.NewInput().Title("Confirm password").EchoMode(huh.EchoModePassword).Value(&f.ConfirmPassword).
			Validate(func(s string) error {
				if s != f.Password {
					return errors.New(ui.MsgPasswordsDiffer)
				}
				return nil
			}),
		huh.NewSelect[ra.UserType]().Title("I am a").Options(types...).Value(&f.UserType),
	).Title("Sign up")

	builder := huh.NewGroup(
		huh.NewInput().Title("Company name").Value(&f.CompanyName).Validate(required("company name")),
	).WithHideFunc(func() bool { return f.UserType != ra.UserTypeBuilder })

	broker := huh.NewGroup(
		huh.NewInput().Title("License number").Value(&f.LicenseNumber).Validate(required("license number")),
	).WithHideFunc(func() bool { return f.UserType != ra.UserTypeBroker })

	return runForm(ctx, account, builder, broker)
}

// promptEmail asks for an email address
func promptEmail(ctx context.Context, title string, email *string) error {
	if *email != "" {
		return nil
	}
	return runForm(ctx, huh.NewGroup(huh.NewInput().Title(title).Value(email).Validate(required("email"))))
}

// confirm asks a yes/no question
func confirm(ctx context.Context, title string) (bool, error) {
	ok := true
	err := runForm(ctx, huh.NewGroup(huh.NewConfirm().Title(title).Value(&ok)))
	return ok, err
}
