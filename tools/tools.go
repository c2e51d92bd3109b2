// Package tools defines the functions a model may call during a turn and
// executes them.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fabfab/rag-assistant/llm"
)

type Kind int

const (
	KindOrgSearch Kind = iota + 1
	KindWeather
)

const (
	OrgSearchName = "relevant_club_info"
	WeatherName   = "get_current_weather"

	DefaultLocation = "Syracuse, NY, US"
)

func (k Kind) String() string {
	switch k {
	case KindOrgSearch:
		return OrgSearchName
	case KindWeather:
		return WeatherName
	default:
		return fmt.Sprintf("tool(%d)", int(k))
	}
}

// ParseKind maps a function name to its Kind.
func ParseKind(name string) (Kind, bool) {
	switch name {
	case OrgSearchName:
		return KindOrgSearch, true
	case WeatherName:
		return KindWeather, true
	default:
		return 0, false
	}
}

var (
	ErrUnknownTool       = errors.New("unknown tool")
	ErrUnauthorized      = errors.New("authentication failed, check the weather API key")
	ErrLocationNotFound  = errors.New("location not found")
	ErrToolNotConfigured = errors.New("tool not configured")
)

// ToolError reports a failed tool call. It is surfaced to the user as text
// rather than aborting the turn.
type ToolError struct {
	Kind Kind
	Name string
	Err  error
}

func (e *ToolError) Error() string {
	name := e.Name
	if name == "" {
		name = e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", name, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

type OrgSearchArgs struct {
	Query string `json:"query"`
}

type WeatherArgs struct {
	Location string `json:"location"`
}

// Call is a parsed tool request. Exactly one of the argument fields is set,
// matching Kind.
type Call struct {
	ID        string
	Kind      Kind
	OrgSearch OrgSearchArgs
	Weather   WeatherArgs
}

// ParseCall decodes the model's tool call into typed arguments.
func ParseCall(tc llm.ToolCall) (Call, error) {
	kind, ok := ParseKind(tc.Name)
	if !ok {
		return Call{}, &ToolError{Name: tc.Name, Err: ErrUnknownTool}
	}

	raw := strings.TrimSpace(tc.Arguments)
	if raw == "" {
		raw = "{}"
	}

	call := Call{ID: tc.ID, Kind: kind}
	var err error
	switch kind {
	case KindOrgSearch:
		err = json.Unmarshal([]byte(raw), &call.OrgSearch)
		if err == nil && strings.TrimSpace(call.OrgSearch.Query) == "" {
			err = errors.New("query is required")
		}
	case KindWeather:
		err = json.Unmarshal([]byte(raw), &call.Weather)
		if err == nil && strings.TrimSpace(call.Weather.Location) == "" {
			call.Weather.Location = DefaultLocation
		}
	}
	if err != nil {
		return Call{}, &ToolError{Kind: kind, Err: fmt.Errorf("decode arguments: %w", err)}
	}
	return call, nil
}

var parameterSchemas = map[Kind]json.RawMessage{
	KindOrgSearch: json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "What to look up about student organizations, e.g. 'robotics clubs' or 'contact email for the chess club'"}
  },
  "required": ["query"]
}`),
	KindWeather: json.RawMessage(`{
  "type": "object",
  "properties": {
    "location": {"type": "string", "description": "City name, e.g. 'Syracuse, NY, US' or 'Lima, Peru'"}
  },
  "required": []
}`),
}

var descriptions = map[Kind]string{
	KindOrgSearch: "Search the student organization database for clubs and their details (purpose, type, contacts, social media).",
	KindWeather:   "Get the current weather for a given city. If no location is provided, default to " + DefaultLocation + ".",
}

// Definitions returns the function declarations advertised to the model.
func Definitions(kinds ...Kind) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(kinds))
	for _, kind := range kinds {
		schema, ok := parameterSchemas[kind]
		if !ok {
			continue
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        kind.String(),
			Description: descriptions[kind],
			Parameters:  schema,
		})
	}
	return defs
}

// UserMessage renders a failed tool call as the reply shown to the user.
func UserMessage(err error) string {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		err = toolErr.Err
	}
	return "Sorry, I couldn't complete that request: " + err.Error()
}
