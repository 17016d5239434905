package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"parley/pkg/events"
	"parley/pkg/history"
	"parley/pkg/interaction"
)

const replyPrefix = "🦜 "

var (
	promptText string
	askUserID  string
	askSession string
)

// askCmd represents the ask command
var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send one message or start an interactive conversation",
	Long:  "Runs the interaction pipeline in-process: each message is published, answered by the configured provider and recorded in conversation history.",
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := resolvePrompt(args)

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svcs, err := loadServices(runCtx, "cmd.ask")
		if err != nil {
			return err
		}
		defer svcs.Close()

		processor, err := svcs.newProcessor()
		if err != nil {
			return err
		}

		if svcs.memoryBus != nil {
			dispatcher, err := svcs.newDispatcher()
			if err != nil {
				return err
			}
			envelopes, unsubscribe := svcs.memoryBus.Subscribe(runCtx, 0)
			done := make(chan struct{})
			go func() {
				defer close(done)
				dispatchLocal(context.WithoutCancel(runCtx), envelopes, dispatcher, svcs.log)
			}()
			defer func() {
				unsubscribe()
				<-done
			}()
		}

		c, err := startChat(runCtx, processor, svcs.store, askUserID, askSession, svcs.log)
		if err != nil {
			return err
		}
		defer c.end(context.WithoutCancel(runCtx))

		out := cmd.OutOrStdout()
		if prompt != "" {
			return runSinglePrompt(runCtx, c, prompt, out)
		}
		return runInteractive(runCtx, c, cmd.InOrStdin(), out)
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&promptText, "prompt", "p", "", "prompt text to send")
	askCmd.Flags().StringVarP(&askUserID, "user", "u", "cli", "user id to attribute messages to")
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "session id to continue (a new one is started when empty)")
}

type messageProcessor interface {
	ProcessUserMessage(ctx context.Context, req interaction.Request) (interaction.Result, error)
	StartSession(ctx context.Context, req interaction.SessionRequest) (interaction.SessionResult, error)
	EndSession(ctx context.Context, req interaction.SessionRequest) (interaction.SessionResult, error)
}

// chat is one CLI conversation bound to a session.
type chat struct {
	processor messageProcessor
	turns     history.TurnWriter
	userID    string
	sessionID string
	log       *slog.Logger
}

func startChat(ctx context.Context, processor messageProcessor, turns history.TurnWriter, userID, sessionID string, log *slog.Logger) (*chat, error) {
	started, err := processor.StartSession(ctx, interaction.SessionRequest{UserID: userID, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	return &chat{
		processor: processor,
		turns:     turns,
		userID:    userID,
		sessionID: started.SessionID,
		log:       log.With("session_id", started.SessionID),
	}, nil
}

func (c *chat) send(ctx context.Context, message string) (string, error) {
	result, err := c.processor.ProcessUserMessage(ctx, interaction.Request{
		UserID:          c.userID,
		SessionID:       c.sessionID,
		Message:         message,
		InteractionType: events.InteractionText,
	})
	if err != nil {
		return "", err
	}
	if result.Status != interaction.StatusOK {
		return "", fmt.Errorf("interaction failed (error id %s): %s", result.ErrorID, result.Error)
	}

	if c.turns != nil {
		if err := history.RecordExchange(ctx, c.turns, c.sessionID, message, result.ResponseText); err != nil {
			c.log.Warn("Failed to record conversation turns", "error", err)
		}
	}
	return result.ResponseText, nil
}

func (c *chat) end(ctx context.Context) {
	if _, err := c.processor.EndSession(ctx, interaction.SessionRequest{UserID: c.userID, SessionID: c.sessionID}); err != nil {
		c.log.Warn("Failed to end session", "error", err)
	}
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func runSinglePrompt(ctx context.Context, c *chat, prompt string, out io.Writer) error {
	reply, err := c.send(ctx, prompt)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, reply)
	return nil
}

func runInteractive(ctx context.Context, c *chat, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if isExitCommand(prompt) {
			return nil
		}

		reply, err := c.send(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "message failed: %v\n", err)
			continue
		}

		printAssistantMessage(out, reply)
	}
}

func printAssistantMessage(out io.Writer, message string) {
	lines := assistantLines(message)
	for _, line := range lines {
		fmt.Fprintf(out, "%s%s\n", replyPrefix, line)
	}
	if len(lines) > 0 {
		fmt.Fprintln(out)
	}
}

func assistantLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}
