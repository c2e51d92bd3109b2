package chat

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fabfab/rag-assistant/config"
	"github.com/fabfab/rag-assistant/tools"
)

// Mode selects how a profile grounds its answers.
type Mode int

const (
	// ModeNone sends the conversation without retrieval or tools.
	ModeNone Mode = iota
	// ModeEager retrieves before every model call.
	ModeEager
	// ModeAgentic lets the model request one tool call per turn.
	ModeAgentic
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeEager:
		return "eager"
	case ModeAgentic:
		return "agentic"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

const (
	DefaultProfile = "orgs"

	// URL context blocks accepted by profiles with AllowURLContext.
	MaxURLContexts     = 2
	MaxURLContextChars = 3000
)

var ErrUnknownProfile = errors.New("unknown profile")

// Profile is a named chat configuration.
type Profile struct {
	Name            string
	Description     string
	Instructions    string
	Window          int
	Mode            Mode
	Tools           []tools.Kind
	TopK            int
	AllowURLContext bool
}

const orgsInstructions = "You are a helpful chatbot that answers questions about student organizations at Syracuse University. " +
	"Use the following context retrieved from the student organization database to answer the user's questions. " +
	"If the context doesn't contain enough information to answer the question, say so honestly. Be friendly and helpful."

var builtinProfiles = map[string]Profile{
	"tutor": {
		Name:        "tutor",
		Description: "Explains things simply for a 10-year-old",
		Instructions: "You are a helpful assistant that explains things in a way that a 10-year-old can understand. " +
			"Use simple words and fun examples. " +
			"After answering each question, ALWAYS ask \"Do you want more info?\" " +
			"If the user says yes, provide additional details about the topic and ask again. " +
			"If the user says no, ask what else you can help with.",
		Window: 4,
		Mode:   ModeNone,
	},
	"web": {
		Name:            "web",
		Description:     "Answers questions about up to two web pages",
		Instructions:    "You are a helpful assistant. Answer questions based on the provided context when relevant.",
		Window:          6,
		Mode:            ModeNone,
		AllowURLContext: true,
	},
	"orgs": {
		Name:         "orgs",
		Description:  "Student organization assistant grounded on the indexed directory",
		Instructions: orgsInstructions,
		Window:       10,
		Mode:         ModeEager,
		TopK:         5,
	},
	"orgs-agent": {
		Name:        "orgs-agent",
		Description: "Student organization assistant that searches the directory on demand",
		Instructions: "You are a helpful chatbot that answers questions about student organizations at Syracuse University. " +
			"Use the relevant_club_info function to look up information when needed. " +
			"Use the get_current_weather function when the user asks about weather for an event or activity.",
		Window: 10,
		Mode:   ModeAgentic,
		Tools:  []tools.Kind{tools.KindOrgSearch, tools.KindWeather},
		TopK:   5,
	},
	"weather": {
		Name:        "weather",
		Description: "Weather-based clothing and activity advisor",
		Instructions: "You are a helpful weather-based fashion and activity advisor. " +
			"When the user provides a city, use the get_current_weather tool to fetch current conditions, " +
			"then give friendly advice on what to wear and suggest appropriate outdoor activities. " +
			"If no city is given, use '" + tools.DefaultLocation + "' as the default.",
		Window: 4,
		Mode:   ModeAgentic,
		Tools:  []tools.Kind{tools.KindWeather},
	},
}

// LookupProfile returns the built-in profile with the given name. An empty
// name selects DefaultProfile.
func LookupProfile(name string) (Profile, error) {
	if name == "" {
		name = DefaultProfile
	}
	profile, ok := builtinProfiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	profile.Tools = append([]tools.Kind(nil), profile.Tools...)
	return profile, nil
}

// ResolveProfile looks up name, falling back to the configured profile and
// then DefaultProfile. Profiles that retrieve use the configured top-k when
// one is set.
func ResolveProfile(name string, cfg config.ChatConfig) (Profile, error) {
	if name == "" {
		name = cfg.Profile
	}
	profile, err := LookupProfile(name)
	if err != nil {
		return Profile{}, err
	}
	if profile.TopK > 0 && cfg.TopK > 0 {
		profile.TopK = cfg.TopK
	}
	return profile, nil
}

// Profiles lists the built-in profiles by name.
func Profiles() []Profile {
	out := make([]Profile, 0, len(builtinProfiles))
	for name := range builtinProfiles {
		profile, _ := LookupProfile(name)
		out = append(out, profile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
