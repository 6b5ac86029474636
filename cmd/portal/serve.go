package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-member-auth"
	"github.com/goliatone/go-member-auth/activitymap"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the portal auth API over HTTP",
	Long: `Serve the login, logout, session and password reset endpoints under
/auth. The listen address defaults to PORTAL_HTTP_ADDR.

Login returns the access token and sets it in the HTTP-only portal_session
cookie. Every other request is authenticated by that cookie or by an
"Authorization: Bearer <token>" header, each client keeps its own session.

Endpoints:
  POST /auth/login            {"member_number", "password"}
  POST /auth/logout
  GET  /auth/session
  GET  /auth/me
  POST /auth/password-reset   {"member_number"}
  POST /auth/reset-password   {"token", "password", "confirm_password"}`,
	RunE: runServe,
}

var (
	serveAddr            string
	serveShutdownTimeout time.Duration
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "address to listen on")
	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 10*time.Second, "maximum time to drain connections on shutdown")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	portals := auth.NewClientPortals(a.newBackend, a.settings)
	if flagAudit {
		portals.WithActivitySink(activitymap.NewJSONSink(os.Stderr))
	}
	defer portals.Wait()

	addr := serveAddr
	if addr == "" {
		addr = a.settings.HTTPAddr
	}

	opts := []auth.AuthControllerOption{}
	if a.embedded != nil {
		opts = append(opts, auth.WithResetCompleter(a.embedded))
	}

	srv := fiber.New(fiber.Config{DisableStartupMessage: true})
	auth.RegisterAuthRoutes(srv.Group("/auth"), portals, opts...)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Listen(addr)
	}()

	fmt.Printf("Listening on %s\n", addr)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer cancel()

	return srv.ShutdownWithContext(shutdownCtx)
}
