package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fabfab/rag-assistant/chat"
	"github.com/fabfab/rag-assistant/conversation"
	"github.com/fabfab/rag-assistant/ingestion"
)

var (
	chatProfile  string
	chatQuestion string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in the terminal",
	Long: `Chat starts an interactive session using one of the built-in profiles.

Commands inside the session:
  /clear       forget the conversation history
  /reset       forget the history and any fetched page context
  /url <url>   add a web page as context (web profile only)
  /quit        leave the session`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatProfile, "profile", "", "assistant profile (default from config)")
	chatCmd.Flags().StringVarP(&chatQuestion, "question", "q", "", "ask a single question and exit")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	profile, err := a.profile(chatProfile)
	if err != nil {
		return err
	}
	svc, err := a.chatService(ctx, searches(profile))
	if err != nil {
		return err
	}

	state := conversation.NewBuffer(profile.Instructions)
	out := cmd.OutOrStdout()

	if chatQuestion != "" {
		return ask(ctx, out, svc, state, profile, chatQuestion)
	}

	fmt.Fprintf(out, "Chatting with the %s assistant. Type /quit to exit.\n", profile.Name)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := runChatCommand(ctx, out, state, profile, line)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := ask(ctx, out, svc, state, profile, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Warn("chat turn failed", zap.Error(err))
			fmt.Fprintln(out, "error:", err)
		}
	}
}

func runChatCommand(ctx context.Context, out io.Writer, state *conversation.Buffer, profile chat.Profile, line string) (bool, error) {
	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "/quit", "/exit":
		return true, nil
	case "/clear":
		state.Reset(false)
		fmt.Fprintln(out, "History cleared.")
	case "/reset":
		state.Reset(true)
		fmt.Fprintln(out, "History and page context cleared.")
	case "/url":
		if !profile.AllowURLContext {
			return false, fmt.Errorf("the %s profile does not accept page context", profile.Name)
		}
		if arg == "" {
			return false, errors.New("usage: /url <url>")
		}
		if len(state.ContextBlocks()) >= chat.MaxURLContexts && !hasContext(state, arg) {
			return false, fmt.Errorf("at most %d pages can be added", chat.MaxURLContexts)
		}
		text, err := ingestion.FetchURL(ctx, arg, chat.MaxURLContextChars)
		if err != nil {
			return false, err
		}
		state.SetContext(arg, text)
		fmt.Fprintf(out, "Added %d characters from %s.\n", len([]rune(text)), arg)
	default:
		return false, fmt.Errorf("unknown command %s", command)
	}
	return false, nil
}

func hasContext(state *conversation.Buffer, label string) bool {
	for _, block := range state.ContextBlocks() {
		if block.Label == label {
			return true
		}
	}
	return false
}

// ask streams one answer to out, followed by its sources.
func ask(ctx context.Context, out io.Writer, svc *chat.Service, state *conversation.Buffer, profile chat.Profile, question string) error {
	turn, err := svc.Ask(ctx, state, profile, question)
	if err != nil {
		return err
	}
	defer turn.Close()

	for {
		fragment, err := turn.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintln(out)
			return err
		}
		fmt.Fprint(out, fragment)
	}
	fmt.Fprintln(out)

	if sources := turn.Sources(); len(sources) > 0 {
		fmt.Fprintln(out, "Sources:")
		for _, src := range sources {
			label := src.DocumentID
			if src.Insight.Title != "" {
				label = fmt.Sprintf("%s (%s)", src.Insight.Title, src.DocumentID)
			}
			fmt.Fprintf(out, "  - %s  score=%.3f\n", label, src.Score)
		}
	}
	return nil
}
