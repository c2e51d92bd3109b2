package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fabfab/rag-assistant/api"
	"github.com/fabfab/rag-assistant/chat"
	"github.com/fabfab/rag-assistant/conversation"
	"github.com/fabfab/rag-assistant/llm"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, err := a.chatService(ctx, true)
	if err != nil {
		return err
	}
	indexer, err := a.indexer(ctx)
	if err != nil {
		return err
	}
	client, err := llm.NewClient(a.cfg)
	if err != nil {
		return fmt.Errorf("llm setup: %w", err)
	}

	deps := api.Dependencies{
		Chat:       svc,
		Sessions:   conversation.NewSessions(),
		Corpus:     indexer,
		Store:      a.store,
		Summarizer: chat.NewSummarizer(client),
	}
	if a.graph != nil {
		deps.Graph = a.graph
	}

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.HTTPAddr
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           api.New(a.cfg, deps, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
