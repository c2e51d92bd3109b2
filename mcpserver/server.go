// Package mcpserver exposes organization search and the weather lookup as
// Model Context Protocol tools.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fabfab/rag-assistant/logging"
	"github.com/fabfab/rag-assistant/tools"
)

const Version = "0.1.0"

var ErrMissingSearch = errors.New("mcp server requires a search service")

// Ports are the services backing the MCP tools. Weather is optional.
type Ports struct {
	Search  tools.Searcher
	Weather tools.WeatherService
}

func (p *Ports) Validate() error {
	if p.Search == nil {
		return ErrMissingSearch
	}
	return nil
}

type Server struct {
	ports  *Ports
	server *mcp.Server
	logger *zap.Logger
}

func NewServer(ports *Ports, logger *zap.Logger) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}

	s := &Server{
		ports:  ports,
		server: mcp.NewServer(&mcp.Implementation{Name: "rag-assistant", Version: Version}, nil),
		logger: logging.OrNop(logger),
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the streamable HTTP transport on addr until ctx is cancelled.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("mcp http shutdown", zap.Error(err))
		}
	}()

	s.logger.Info("mcp server listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
