package executor

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/jobs/runtime"
	"github.com/devpath/devpath-backend/internal/services"
)

// NewChallengeRegeneration builds the executor that replaces the current
// coding challenge. Result: {"challenge": {...}}.
func NewChallengeRegeneration(sessions services.SessionProvider, profile services.ProfileProvider) runtime.Handler {
	return &regenExecutor{
		jobType:  domain.JobTypeChallengeRegeneration,
		sessions: sessions,
		profile:  profile,
		prompt:   challengePrompt,
		parse:    parseChallenge,
	}
}

func challengePrompt(facts *services.ProfileFacts, jc *runtime.Context) string {
	var b strings.Builder
	b.WriteString("Suggest one hands-on coding challenge for this developer as JSON ")
	b.WriteString(`{"title": "...", "description": "...", "language": "...", "repo": "...", "steps": ["..."]}.` + "\n")
	writeFacts(&b, facts)
	if prev := jc.InputStrings("previousChallengeTitles"); len(prev) > 0 {
		fmt.Fprintf(&b, "Do not repeat: %s\n", strings.Join(prev, ", "))
	}
	return b.String()
}

func parseChallenge(raw string) (map[string]any, error) {
	ch, err := decodeObject[domain.Challenge](raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(ch.Title) == "" {
		return nil, fmt.Errorf("model output missing challenge title")
	}
	if ch.ID == "" {
		ch.ID = uuid.New().String()
	}
	m, err := toMap(ch)
	if err != nil {
		return nil, err
	}
	return map[string]any{"challenge": m}, nil
}
