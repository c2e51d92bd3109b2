package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var clearConfirm bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every indexed chunk and the knowledge graph mirror",
	RunE:  runClear,
}

func init() {
	clearCmd.Flags().BoolVar(&clearConfirm, "confirm", false, "skip the confirmation prompt")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	if !clearConfirm {
		fmt.Fprint(out, "This will delete all indexed data. Continue? [y/N]: ")
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("clear vector store: %w", err)
	}
	a.logger.Info("vector store cleared")

	graph, err := a.openGraph(ctx)
	if err != nil {
		return err
	}
	if graph != nil {
		if err := graph.Purge(ctx); err != nil {
			return fmt.Errorf("clear neo4j: %w", err)
		}
		a.logger.Info("neo4j documents and chunks cleared")
	}

	fmt.Fprintln(out, "RAG data cleared.")
	return nil
}
