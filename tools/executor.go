package tools

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fabfab/rag-assistant/logging"
	"github.com/fabfab/rag-assistant/retrieval"
	"github.com/fabfab/rag-assistant/vectorstore"
)

// Searcher is the retrieval dependency of the org search tool.
type Searcher interface {
	Retrieve(ctx context.Context, query string, k int) ([]vectorstore.Match, error)
}

// WeatherService is the dependency of the weather tool.
type WeatherService interface {
	Current(ctx context.Context, location string) (WeatherReport, error)
}

// Result is the outcome of one tool execution. Sources holds the matches an
// org search returned.
type Result struct {
	Content string
	Sources []vectorstore.Match
}

type Executor struct {
	searcher Searcher
	weather  WeatherService
	topK     int
	logger   *zap.Logger
}

// NewExecutor wires the tool backends. Either dependency may be nil, in which
// case calls to that tool fail with ErrToolNotConfigured.
func NewExecutor(searcher Searcher, weather WeatherService, topK int, logger *zap.Logger) *Executor {
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	return &Executor{searcher: searcher, weather: weather, topK: topK, logger: logging.OrNop(logger)}
}

// Execute runs a parsed call once. Every failure is a *ToolError.
func (e *Executor) Execute(ctx context.Context, call Call) (Result, error) {
	e.logger.Debug("execute tool", zap.Stringer("tool", call.Kind), zap.String("call_id", call.ID))

	switch call.Kind {
	case KindOrgSearch:
		if e.searcher == nil {
			return Result{}, &ToolError{Kind: call.Kind, Err: ErrToolNotConfigured}
		}
		matches, err := e.searcher.Retrieve(ctx, call.OrgSearch.Query, e.topK)
		if err != nil {
			return Result{}, &ToolError{Kind: call.Kind, Err: err}
		}
		if len(matches) == 0 {
			return Result{Content: "No matching organizations were found."}, nil
		}
		return Result{Content: retrieval.JoinContext(matches), Sources: matches}, nil

	case KindWeather:
		if e.weather == nil {
			return Result{}, &ToolError{Kind: call.Kind, Err: ErrToolNotConfigured}
		}
		report, err := e.weather.Current(ctx, call.Weather.Location)
		if err != nil {
			var toolErr *ToolError
			if errors.As(err, &toolErr) {
				return Result{}, err
			}
			return Result{}, &ToolError{Kind: call.Kind, Err: err}
		}
		content, err := report.JSON()
		if err != nil {
			return Result{}, &ToolError{Kind: call.Kind, Err: err}
		}
		return Result{Content: content}, nil

	default:
		return Result{}, &ToolError{Kind: call.Kind, Err: fmt.Errorf("%w: %s", ErrUnknownTool, call.Kind)}
	}
}
