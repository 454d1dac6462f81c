package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/session"
)

var loginEmail string

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the BSP backend",
	Long: `Authenticate with the backend using email and password.

The returned credential is stored in the system keychain when
available, or in the Nexus data directory otherwise, and is reused
by all other commands until it expires or 'nexus logout' is run.`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Email to log in with (prompted when omitted)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	email := loginEmail
	if email == "" {
		fmt.Print("Email: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}
	if email == "" {
		return fmt.Errorf("email is required")
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	sessions := session.NewStore()
	gw := newGateway(sessions)

	result, err := gw.Login(context.Background(), email, string(password))
	if err != nil {
		return err
	}

	if err := sessions.SetCredential(session.Identity{
		ID:    result.User.ID,
		Email: result.User.Email,
		Name:  result.User.Name,
	}, result.Token); err != nil {
		return err
	}

	fmt.Printf("✅ Logged in as %s\n", result.User.Email)
	return nil
}
