package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fabfab/rag-assistant/retrieval"
	"github.com/fabfab/rag-assistant/tools"
)

const maxSearchLimit = 20

type SearchInput struct {
	Query string `json:"query" jsonschema:"what to look up about student organizations"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of chunks to return (default 5)"`
}

type SearchOutput struct {
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
	Context string         `json:"context"`
}

type SearchResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Role       string  `json:"role"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

type WeatherInput struct {
	Location string `json:"location,omitempty" jsonschema:"city name, e.g. 'Syracuse, NY, US' or 'Lima, Peru'"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_orgs",
		Description: "Search the student organization directory and return the closest matching chunks",
	}, s.handleSearch)

	if s.ports.Weather != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        tools.WeatherName,
			Description: "Get the current weather for a given city. If no location is provided, default to " + tools.DefaultLocation + ".",
		}, s.handleWeather)
	}
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return nil, SearchOutput{}, fmt.Errorf("query is required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = retrieval.DefaultTopK
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	matches, err := s.ports.Search.Retrieve(ctx, input.Query, limit)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Results: make([]SearchResult, len(matches)),
		Count:   len(matches),
		Context: retrieval.JoinContext(matches),
	}
	for i, m := range matches {
		output.Results[i] = SearchResult{
			ChunkID:    m.ID,
			DocumentID: m.DocumentID,
			Role:       m.Role,
			Text:       m.Text,
			Score:      m.Score(),
		}
	}
	s.logger.Debug("mcp search", zap.String("query", input.Query), zap.Int("results", output.Count))
	return nil, output, nil
}

func (s *Server) handleWeather(ctx context.Context, _ *mcp.CallToolRequest, input WeatherInput) (*mcp.CallToolResult, tools.WeatherReport, error) {
	report, err := s.ports.Weather.Current(ctx, input.Location)
	if err != nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: tools.UserMessage(err)}},
		}, tools.WeatherReport{}, nil
	}
	return nil, report, nil
}
