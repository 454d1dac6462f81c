package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/model"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/session"
)

var (
	templateName     string
	templateCategory string
	templateLanguage string
	templateBody     string
)

// templatesCmd represents the templates command group
var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage message templates",
	Long: `List and create WhatsApp message templates.

Created templates are submitted to Meta for approval through the
backend; their approval status updates arrive over the event stream
and can also be checked with 'nexus templates list'.`,
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates and their approval status",
	RunE:  runTemplatesList,
}

var templatesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Submit a new template for approval",
	RunE:  runTemplatesCreate,
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesCreateCmd)

	templatesCreateCmd.Flags().StringVar(&templateName, "name", "", "Template name (required)")
	templatesCreateCmd.Flags().StringVar(&templateCategory, "category", "UTILITY", "Template category (MARKETING, UTILITY, AUTHENTICATION)")
	templatesCreateCmd.Flags().StringVar(&templateLanguage, "language", "en_US", "Template language code")
	templatesCreateCmd.Flags().StringVar(&templateBody, "body", "", "Template body text (required)")
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	sessions := session.NewStore()
	if err := requireLogin(sessions); err != nil {
		return err
	}
	gw := newGateway(sessions)

	templates, err := gw.ListTemplates(context.Background())
	if err != nil {
		return err
	}
	if len(templates) == 0 {
		fmt.Println("No templates.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tLANGUAGE\tSTATUS")
	for _, tpl := range templates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", tpl.Name, tpl.Category, tpl.Language, valueOr(tpl.Status, "pending"))
	}
	return w.Flush()
}

func runTemplatesCreate(cmd *cobra.Command, args []string) error {
	if templateName == "" {
		return fmt.Errorf("--name is required")
	}
	if templateBody == "" {
		return fmt.Errorf("--body is required")
	}

	sessions := session.NewStore()
	if err := requireLogin(sessions); err != nil {
		return err
	}
	gw := newGateway(sessions)

	created, err := gw.CreateTemplate(context.Background(), model.Template{
		Name:     templateName,
		Category: templateCategory,
		Language: templateLanguage,
		Body:     templateBody,
	})
	if err != nil {
		return err
	}

	fmt.Printf("✅ Template %q submitted (status: %s)\n", created.Name, valueOr(created.Status, "pending"))
	return nil
}
