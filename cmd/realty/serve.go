package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	ra "github.com/panyam/realtyauth"
	"github.com/panyam/realtyauth/ui"
)

func newServeCmd(a *app) *cobra.Command {
	var addr, apiAddr, userStore string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backend API and the web front end",
		Long: `Run the backend auth API and the web front end side by side.

The backend serves /api/auth/login, /api/auth/signup,
/api/auth/resend-verification and /api/auth/me. The front end serves the auth
dialogs under /auth, the session under /session and the guarded areas
/admin, /broker, /builder and /user.

Examples:
  REALTY_SECRET_KEY=dev realty serve
  realty serve --addr :9000 --api-addr :9001 --user-store datastore`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Serve.Addr = addr
				a.cfg.Serve.BaseURL = localURL(addr)
			}
			if apiAddr != "" {
				a.cfg.Serve.APIAddr = apiAddr
				if a.overrides.BackendURL == "" {
					a.cfg.BackendURL = localURL(apiAddr)
				}
			}
			if userStore != "" {
				a.cfg.Serve.UserStore = userStore
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "front end listen address")
	cmd.Flags().StringVar(&apiAddr, "api-addr", "", "backend API listen address")
	cmd.Flags().StringVar(&userStore, "user-store", "", "user directory: fs or datastore")
	return cmd
}

// localURL is the URL of a listen address on this machine
func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	var cl closers
	defer cl.Close()

	users, tokens, err := cfg.OpenUserStores(ctx, &cl)
	if err != nil {
		return err
	}
	sender := &ra.ConsoleEmailSender{Logger: logger}
	idp, err := cfg.OpenServerIdentity(ctx, &cl, tokens, sender, logger)
	if err != nil {
		return err
	}

	backend := (&ra.Backend{
		Users:    users,
		Accounts: idp.Accounts,
		Verifier: idp.Verifier,
		Logger:   logger,
	}).EnsureDefaults()

	visitors, err := cfg.OpenVisitors(ctx, &cl, idp, logger)
	if err != nil {
		return err
	}
	front := ui.NewServer(visitors)
	front.Logger = logger
	front.VerifyEmail = idp.VerifyEmail
	cl.add(front.Close)

	servers := []*http.Server{
		{Addr: cfg.Serve.APIAddr, Handler: backend.Handler(), ReadHeaderTimeout: 10 * time.Second},
		{Addr: cfg.Serve.Addr, Handler: front.Handler(), ReadHeaderTimeout: 10 * time.Second},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Serve.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
