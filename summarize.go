package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fabfab/rag-assistant/chat"
	"github.com/fabfab/rag-assistant/ingestion"
	"github.com/fabfab/rag-assistant/llm"
)

var (
	summarizeURL      string
	summarizeFile     string
	summarizeFormat   string
	summarizeLanguage string
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize a web page or a local document",
	RunE:  runSummarize,
}

func init() {
	summarizeCmd.Flags().StringVar(&summarizeURL, "url", "", "page to fetch and summarize")
	summarizeCmd.Flags().StringVar(&summarizeFile, "file", "", "local HTML, PDF or text file to summarize")
	summarizeCmd.Flags().StringVar(&summarizeFormat, "format", string(chat.FormatBrief), "brief, paragraphs or bullets")
	summarizeCmd.Flags().StringVar(&summarizeLanguage, "language", chat.DefaultLanguage, "language of the summary")
	summarizeCmd.MarkFlagsMutuallyExclusive("url", "file")
	summarizeCmd.MarkFlagsOneRequired("url", "file")
	rootCmd.AddCommand(summarizeCmd)
}

func runSummarize(cmd *cobra.Command, _ []string) error {
	format, err := chat.ParseSummaryFormat(summarizeFormat)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var text string
	if summarizeURL != "" {
		text, err = ingestion.FetchURL(ctx, summarizeURL, chat.MaxSummaryInput)
	} else {
		text, err = readDocument(summarizeFile)
	}
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("nothing to summarize")
	}

	client, err := llm.NewClient(a.cfg)
	if err != nil {
		return fmt.Errorf("llm setup: %w", err)
	}
	summary, err := chat.NewSummarizer(client).Summarize(ctx, text, format, summarizeLanguage)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary)
	return nil
}

func readDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return ingestion.DocumentText(ingestion.Document{
		ID:     ingestion.DocumentID(path),
		Path:   path,
		Format: ingestion.DetectFormat(path),
		Data:   data,
	})
}
