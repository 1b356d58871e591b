package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kavach/kavach/internal/store"
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the Kavach backend",
	Long: `Signs in with email credentials and stores the session token,
encrypted at rest. Every backend call afterwards carries the token.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the stored session",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var (
	loginEmail    string
	loginPassword string
	logoutPurge   bool
)

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (prompted when omitted)")
	logoutCmd.Flags().BoolVar(&logoutPurge, "purge", false, "Also clear incidents and the paired device")
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	cmd.SilenceUsage = true

	email := loginEmail
	if email == "" {
		fmt.Print("Email: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}
	password := loginPassword
	if password == "" {
		fmt.Print("Password: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimSpace(line)
	}

	sess, err := a.backend.SignIn(cmd.Context(), email, password)
	if err != nil {
		return err
	}
	a.backend.SetToken(sess.Token)
	if err := a.store.SaveAuth(cmd.Context(), &store.AuthSession{Token: sess.Token, User: sess.User}); err != nil {
		return err
	}
	color.Green("Signed in.")
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	if logoutPurge {
		if err := a.store.ClearAll(ctx); err != nil {
			return err
		}
		color.Green("Signed out; all local data cleared.")
		return nil
	}
	if err := a.store.ClearAuth(ctx); err != nil {
		return err
	}
	color.Green("Signed out.")
	return nil
}
