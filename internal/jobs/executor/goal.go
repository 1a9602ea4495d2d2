package executor

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/jobs/runtime"
	"github.com/devpath/devpath-backend/internal/services"
)

// NewGoalRegeneration builds the executor that replaces the current
// learning goal. Result: {"goal": {...}}.
func NewGoalRegeneration(sessions services.SessionProvider, profile services.ProfileProvider) runtime.Handler {
	return &regenExecutor{
		jobType:  domain.JobTypeGoalRegeneration,
		sessions: sessions,
		profile:  profile,
		prompt:   goalPrompt,
		parse:    parseGoal,
	}
}

func goalPrompt(facts *services.ProfileFacts, jc *runtime.Context) string {
	var b strings.Builder
	b.WriteString("Suggest one growth goal for this developer as JSON ")
	b.WriteString(`{"title": "...", "description": "...", "horizon": "week|month|quarter"}.` + "\n")
	writeFacts(&b, facts)
	if prev := jc.InputStrings("previousGoalTitles"); len(prev) > 0 {
		fmt.Fprintf(&b, "Do not repeat: %s\n", strings.Join(prev, ", "))
	}
	return b.String()
}

func parseGoal(raw string) (map[string]any, error) {
	g, err := decodeObject[domain.Goal](raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(g.Title) == "" {
		return nil, fmt.Errorf("model output missing goal title")
	}
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	m, err := toMap(g)
	if err != nil {
		return nil, err
	}
	return map[string]any{"goal": m}, nil
}
