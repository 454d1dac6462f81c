package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/oauth"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/session"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect a WhatsApp Business account via Facebook",
	Long: `Run the Facebook embedded-signup flow to connect a WhatsApp
Business account.

The command prints an authorization URL, waits for Facebook to
redirect the browser back to a local callback endpoint, and then
registers the account with the backend.`,
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	if cfg.Facebook.AppID == "" {
		return fmt.Errorf("facebook.app_id is not configured (set it in %s)", cfgPath)
	}

	sessions := session.NewStore()
	if err := requireLogin(sessions); err != nil {
		return err
	}
	gw := newGateway(sessions)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Println("\n👋 Cancelled")
		cancel()
	}()

	flow := oauth.NewFlow(cfg.Facebook.AppID, cfg.Facebook.RedirectPort, gw)
	flow.OpenURL = func(u string) error {
		fmt.Printf("Open this URL in your browser to authorize:\n\n  %s\n\nWaiting for the callback...\n", u)
		return nil
	}

	result, err := flow.Run(ctx)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("connection failed: %s", valueOr(result.Message, "backend rejected the authorization"))
	}

	fmt.Printf("✅ Connected %s (account %d)\n", result.PhoneNumber, result.WabaAccountID)
	return nil
}
