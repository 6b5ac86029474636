package main

import (
	"encoding/json"
	"fmt"
	"os"

	auth "github.com/goliatone/go-member-auth"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with a member number and password",
	Long: `Sign in with a member number. The number is resolved to the member
email and the password is checked by the backend.

Example:
  portal login --member TM10003 --password secret
  PORTAL_PASSWORD=secret portal login --member TM10003`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the saved state",
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current portal auth state",
	RunE:  runStatus,
}

var (
	loginMember   string
	loginPassword string
)

func init() {
	loginCmd.Flags().StringVarP(&loginMember, "member", "m", "", "member number")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "password (default PORTAL_PASSWORD)")
	_ = loginCmd.MarkFlagRequired("member")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	password := loginPassword
	if password == "" {
		password = os.Getenv("PORTAL_PASSWORD")
	}

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(ctx); err != nil {
		return err
	}

	res := a.bridge.Login(ctx, loginMember, password)
	if !res.OK() {
		return fmt.Errorf("%s", res.Message())
	}

	if err := a.rememberSession(ctx); err != nil {
		return err
	}

	return printState(a.bridge.Snapshot())
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(ctx); err != nil {
		return err
	}

	a.bridge.Logout(ctx)

	return a.forgetSession(ctx)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(ctx); err != nil {
		return err
	}

	return printState(a.bridge.Snapshot())
}

func printState(state auth.PortalState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
