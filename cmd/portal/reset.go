package main

import (
	"fmt"
	"os"

	auth "github.com/goliatone/go-member-auth"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Request a password reset email for a member",
	Long: `Request a password reset. A reset token is generated by the backend and
a pending email is recorded for delivery.

With --token the reset is completed instead, which requires the embedded
backend:
  portal reset-password --token <token> --password <new password>`,
	RunE: runReset,
}

var emailsCmd = &cobra.Command{
	Use:   "emails",
	Short: "List pending emails recorded by the embedded backend",
	RunE:  runEmails,
}

var (
	resetMember   string
	resetToken    string
	resetPassword string
)

func init() {
	resetCmd.Flags().StringVarP(&resetMember, "member", "m", "", "member number")
	resetCmd.Flags().StringVar(&resetToken, "token", "", "reset token received by email")
	resetCmd.Flags().StringVarP(&resetPassword, "password", "p", "", "new password (default PORTAL_PASSWORD)")

	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(emailsCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if resetToken != "" {
		backend, err := a.requireEmbedded()
		if err != nil {
			return err
		}

		password := resetPassword
		if password == "" {
			password = os.Getenv("PORTAL_PASSWORD")
		}

		payload := auth.ResetPasswordPayload{Token: resetToken, Password: password, ConfirmPassword: password}
		if err := payload.Validate(); err != nil {
			return err
		}

		if err := backend.CompletePasswordReset(ctx, resetToken, password); err != nil {
			return err
		}

		fmt.Println("Password updated")
		return nil
	}

	if resetMember == "" {
		return fmt.Errorf("--member or --token is required")
	}

	res := a.bridge.RequestPasswordReset(ctx, resetMember)
	if !res.OK() {
		return fmt.Errorf("%s", res.Message())
	}

	fmt.Println(auth.PasswordResetRequestedMessage)
	return nil
}

func runEmails(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	backend, err := a.requireEmbedded()
	if err != nil {
		return err
	}

	logs, err := backend.PendingEmailLogs(ctx)
	if err != nil {
		return err
	}

	for _, entry := range logs {
		fmt.Printf("%s\t%s\t%s\t%v\n", entry.MemberNumber, entry.RecipientEmail, entry.Subject, entry.Metadata["reset_url"])
	}

	return nil
}
