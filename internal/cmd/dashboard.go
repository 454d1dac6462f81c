package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/session"
)

// dashboardCmd represents the dashboard command
var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show the connected account snapshot",
	Long: `Show the WhatsApp Business account snapshot: the outbound
sending phone number and the connection status reported by the
backend.`,
	RunE: runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	sessions := session.NewStore()
	if err := requireLogin(sessions); err != nil {
		return err
	}
	gw := newGateway(sessions)

	dash, err := gw.Dashboard(context.Background())
	if err != nil {
		return err
	}

	if identity := sessions.Identity(); identity != nil {
		fmt.Printf("Operator:      %s\n", identity.Email)
	}
	fmt.Printf("Phone number:  %s\n", valueOr(dash.PhoneNumber, "(not connected)"))
	fmt.Printf("Status:        %s\n", valueOr(dash.ConnectionStatus, "unknown"))
	if dash.WabaAccountID != 0 {
		fmt.Printf("Account ID:    %d\n", dash.WabaAccountID)
	}
	return nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
