package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/session"
)

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions := session.NewStore()
		if err := sessions.Clear(); err != nil {
			return fmt.Errorf("failed to clear credential: %w", err)
		}
		fmt.Println("👋 Logged out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
