package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/shlex"
	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/chat"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/config"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/logging"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/model"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/notify"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/session"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/stream"
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive conversation console",
	Long: `Open the interactive console for customer conversations.

The console keeps the conversation list live through the backend's
event stream. Type a message and press Enter to send it to the
selected conversation.

Commands:
  /list           - List conversations
  /select <id>    - Select a conversation
  /show           - Show the selected conversation
  /retry          - Resend the last failed message
  /refresh        - Reload conversations from the backend
  /status         - Show connection health
  /quit, /exit    - Exit the console`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	sessions := session.NewStore()
	if err := requireLogin(sessions); err != nil {
		return err
	}
	gw := newGateway(sessions)

	manager := stream.NewManager(cfg.Backend.ResolvedStreamURL(),
		stream.WithReconnectPolicy(cfg.Stream.MaxReconnectAttempts, cfg.Stream.ReconnectBackoff()),
		stream.WithLivenessInterval(cfg.Stream.LivenessInterval()))
	defer manager.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Println("\n\n👋 Shutting down...")
		cancel()
	}()

	// The OnMessage callback reads back from the controller's cache, so
	// the variable is declared before the literal that captures it.
	var controller *chat.Controller
	controller = chat.NewController(gw, manager, notify.NewEngine(cfg.Notify), chat.Callbacks{
		OnMessage: func(conversationID int64, msg model.Message) {
			if msg.Direction != model.DirectionInbound {
				return
			}
			name := conversationLabel(controller, conversationID)
			fmt.Printf("\n💬 [%s] %s: %s\n", chat.FormatMessageTime(msg.CreatedAt), name, msg.Content)
		},
		OnStreamState: func(s stream.State) {
			switch s {
			case stream.StateReconnecting:
				fmt.Println("\n⚠️  Connection lost, reconnecting...")
			case stream.StateFailed:
				fmt.Println("\n❌ Connection failed; messages will catch up on /refresh")
			}
		},
		OnAlert: func(conv model.Conversation, msg model.Message, rule string) {
			fmt.Printf("\n🔔 [%s] %s: %s\n", rule, displayName(conv), msg.Content)
		},
		OnTemplateUpdate: func(ev stream.TemplateEvent) {
			fmt.Printf("\n📋 Template %q is now %s\n", ev.Name, ev.Status)
		},
	})

	if err := controller.Start(ctx); err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}

	// Live-reload notify rules when the settings file changes.
	if watcher, err := config.Watch(cfgPath, logging.Get(), func(newCfg *config.Config) {
		controller.SetRules(notify.NewEngine(newCfg.Notify))
	}); err == nil {
		defer watcher.Close()
	}

	return runChatLoop(ctx, controller)
}

// slashCommands defines the available slash commands with their descriptions.
var slashCommands = []struct {
	name        string
	description string
}{
	{"/list", "List conversations"},
	{"/select", "Select a conversation by id"},
	{"/show", "Show the selected conversation"},
	{"/retry", "Resend the last failed message"},
	{"/refresh", "Reload conversations from the backend"},
	{"/status", "Show connection health"},
	{"/help", "Show available commands"},
	{"/quit", "Exit the console"},
	{"/exit", "Exit the console (alias)"},
	{"/q", "Exit the console (alias)"},
}

func runChatLoop(ctx context.Context, c *chat.Controller) error {
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string {
		if conv, ok := c.Selected(); ok {
			return displayName(conv) + "> "
		}
		return "nexus> "
	})

	history := readline.NewInMemoryHistory()
	rl.History.Add("default", history)

	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}

	fmt.Println("\n📝 Type a message and press Enter to send. Use /help for commands.")
	printConversations(c)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				fmt.Println("\n👋 Goodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := handleChatCommand(ctx, c, line); quit {
				return nil
			}
			continue
		}

		if err := c.Send(ctx, line); err != nil {
			fmt.Printf("❌ %v\n", err)
			continue
		}
		if conv, ok := c.Selected(); ok && len(conv.Messages) > 0 {
			last := conv.Messages[len(conv.Messages)-1]
			fmt.Printf("  [%s] you: %s %s\n", chat.FormatMessageTime(last.CreatedAt), last.Content, statusMark(last.Status))
		}
	}
}

// handleChatCommand runs a slash command and reports whether the
// console should exit.
func handleChatCommand(ctx context.Context, c *chat.Controller, line string) bool {
	parts, err := shlex.Split(line)
	if err != nil || len(parts) == 0 {
		fmt.Printf("❓ Could not parse command: %v\n", err)
		return false
	}

	switch strings.ToLower(strings.TrimPrefix(parts[0], "/")) {
	case "quit", "exit", "q":
		fmt.Println("👋 Goodbye!")
		return true

	case "list":
		printConversations(c)

	case "select":
		if len(parts) < 2 {
			fmt.Println("Usage: /select <conversation-id>")
			return false
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			fmt.Printf("❓ Not a conversation id: %s\n", parts[1])
			return false
		}
		if !c.Select(id) {
			fmt.Printf("❓ No conversation %d (try /list)\n", id)
			return false
		}
		printSelected(c)

	case "show":
		printSelected(c)

	case "retry":
		if err := c.Retry(ctx); err != nil {
			fmt.Printf("❌ Retry failed: %v\n", err)
			return false
		}
		printSelected(c)

	case "refresh":
		if err := c.Refresh(ctx); err != nil {
			fmt.Printf("❌ Refresh failed: %v\n", err)
			return false
		}
		printConversations(c)

	case "status":
		printStatus(c)

	case "help", "h", "?":
		printChatHelp()

	default:
		fmt.Printf("❓ Unknown command: %s (use /help for available commands)\n", parts[0])
	}
	return false
}

func printConversations(c *chat.Controller) {
	conversations := c.Cache().Conversations()
	if len(conversations) == 0 {
		fmt.Println("No conversations yet.")
		return
	}

	selectedID := int64(0)
	if conv, ok := c.Selected(); ok {
		selectedID = conv.ID
	}

	fmt.Println()
	for _, conv := range conversations {
		marker := "  "
		if conv.ID == selectedID {
			marker = "* "
		}
		fmt.Printf("%s[%d] %s  %s  %s\n", marker, conv.ID, displayName(conv),
			chat.FormatMessageStamp(conv.LastMessageTime), truncate(conv.LastMessage, 50))
	}
	fmt.Println()
}

func printSelected(c *chat.Controller) {
	conv, ok := c.Selected()
	if !ok {
		fmt.Println("No conversation selected (use /select <id>).")
		return
	}

	fmt.Printf("\n%s (%s)\n", displayName(conv), conv.CustomerPhone)
	for _, msg := range conv.Messages {
		stamp := chat.FormatMessageTime(msg.CreatedAt)
		if msg.Direction == model.DirectionOutbound {
			fmt.Printf("  [%s] you: %s %s\n", stamp, msg.Content, statusMark(msg.Status))
		} else {
			fmt.Printf("  [%s] %s: %s\n", stamp, displayName(conv), msg.Content)
		}
	}
	fmt.Println()
}

func printStatus(c *chat.Controller) {
	fmt.Printf("Stream: %s\n", c.StreamState())
	if dash := c.Dashboard(); dash != nil {
		fmt.Printf("Account: %s (%s)\n", valueOr(dash.PhoneNumber, "not connected"), valueOr(dash.ConnectionStatus, "unknown"))
	}
	fmt.Printf("Conversations: %d\n", c.Cache().Len())
}

func printChatHelp() {
	fmt.Println(`
Available commands:
  /list           - List conversations
  /select <id>    - Select a conversation
  /show           - Show the selected conversation
  /retry          - Resend the last failed message
  /refresh        - Reload conversations from the backend
  /status         - Show connection health
  /help, /h, /?   - Show this help message
  /quit, /exit    - Exit the console

Tips:
  - Type a message and press Enter to send it to the selected conversation
  - Use up/down arrows for input history
  - Use Tab to autocomplete slash commands`)
}

func displayName(conv model.Conversation) string {
	if conv.CustomerName != "" {
		return conv.CustomerName
	}
	return conv.CustomerPhone
}

func conversationLabel(c *chat.Controller, conversationID int64) string {
	if c == nil {
		return fmt.Sprintf("conversation %d", conversationID)
	}
	if conv, ok := c.Cache().Conversation(conversationID); ok {
		return displayName(conv)
	}
	return fmt.Sprintf("conversation %d", conversationID)
}

func statusMark(status model.Status) string {
	switch status {
	case model.StatusSent:
		return "✓"
	case model.StatusDelivered:
		return "✓✓"
	case model.StatusRead:
		return "✓✓ (read)"
	case model.StatusFailed:
		return "✗ failed"
	default:
		return ""
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// completeInput provides tab completion for slash commands.
func completeInput(line string, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]

	if !strings.HasPrefix(text, "/") {
		return readline.Completions{}
	}

	var pairs []string
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd.name, text) {
			pairs = append(pairs, cmd.name, cmd.description)
		}
	}
	if len(pairs) == 0 {
		return readline.Completions{}
	}

	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}
