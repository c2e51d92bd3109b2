package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fabfab/rag-assistant/ingestion"
)

var (
	ingestDir   string
	ingestForce bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Build the vector index from a directory of organization pages",
	Long: `Ingest reads every HTML, PDF and text file in the data directory, extracts
one organization record per file and indexes an identity chunk and a contact
chunk for each. An index that already has entries is left alone unless
--force is given.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "directory containing organization pages (default from config)")
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "re-index even when the store already has entries")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dir := ingestDir
	if dir == "" {
		dir = a.cfg.Ingest.DataDir
	}

	indexer, err := a.indexer(ctx)
	if err != nil {
		return err
	}

	a.logger.Info("ingesting corpus",
		zap.String("dir", dir),
		zap.String("store", a.cfg.Store.Backend),
		zap.String("embeddings", a.cfg.Embeddings.Provider+"/"+a.cfg.Embeddings.Model),
		zap.Bool("force", ingestForce),
	)

	report, err := indexer.BuildCorpus(ctx, dir, ingestion.BuildOptions{Force: ingestForce})
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if report.Skipped {
		fmt.Fprintln(out, "Index already populated; use --force to rebuild.")
		return nil
	}
	fmt.Fprintf(out, "Indexed %d chunks from %d documents.\n", report.Chunks, report.Documents)
	for _, failure := range report.Failures {
		if failure.ChunkID != "" {
			fmt.Fprintf(out, "  failed %s (%s): %v\n", failure.Path, failure.ChunkID, failure.Err)
			continue
		}
		fmt.Fprintf(out, "  failed %s: %v\n", failure.Path, failure.Err)
	}
	return nil
}
