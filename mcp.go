package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fabfab/rag-assistant/mcpserver"
)

var mcpHTTPAddr string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve organization search and weather as MCP tools",
	Long: `Start a Model Context Protocol server. By default it speaks over stdio,
which is what MCP clients expect when they launch the binary themselves.
Pass --http to serve the streamable HTTP transport instead.`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpHTTPAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	retriever, err := a.retriever(ctx)
	if err != nil {
		return err
	}

	ports := &mcpserver.Ports{Search: retriever}
	if a.cfg.Weather.APIKey != "" {
		ports.Weather = a.weather()
	} else {
		a.logger.Info("weather tool disabled, no API key configured")
	}

	server, err := mcpserver.NewServer(ports, a.logger)
	if err != nil {
		return err
	}

	if mcpHTTPAddr != "" {
		a.logger.Info("mcp server listening", zap.String("addr", mcpHTTPAddr))
		return server.RunHTTP(ctx, mcpHTTPAddr)
	}
	return server.Run(ctx)
}
