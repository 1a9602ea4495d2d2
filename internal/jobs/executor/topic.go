package executor

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/jobs/runtime"
	"github.com/devpath/devpath-backend/internal/services"
)

// NewTopicRegeneration builds the executor that replaces a learning topic.
// Input: existingTopicTitles (avoid repeats). Result: {"learningTopic": {...}}.
func NewTopicRegeneration(sessions services.SessionProvider, profile services.ProfileProvider) runtime.Handler {
	return &regenExecutor{
		jobType:  domain.JobTypeTopicRegeneration,
		sessions: sessions,
		profile:  profile,
		prompt:   topicPrompt,
		parse:    parseTopic,
	}
}

func topicPrompt(facts *services.ProfileFacts, jc *runtime.Context) string {
	var b strings.Builder
	b.WriteString("Suggest one new learning topic for this developer as JSON ")
	b.WriteString(`{"title": "...", "summary": "...", "resources": ["..."], "relatedRepo": "..."}.` + "\n")
	writeFacts(&b, facts)
	if titles := jc.InputStrings("existingTopicTitles"); len(titles) > 0 {
		fmt.Fprintf(&b, "Do not repeat these topics: %s\n", strings.Join(titles, ", "))
	}
	return b.String()
}

func parseTopic(raw string) (map[string]any, error) {
	topic, err := decodeObject[domain.LearningTopic](raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(topic.Title) == "" {
		return nil, fmt.Errorf("model output missing topic title")
	}
	if topic.ID == "" {
		topic.ID = uuid.New().String()
	}
	m, err := toMap(topic)
	if err != nil {
		return nil, err
	}
	return map[string]any{"learningTopic": m}, nil
}

func writeFacts(b *strings.Builder, facts *services.ProfileFacts) {
	if facts == nil {
		return
	}
	fmt.Fprintf(b, "Developer: %s", facts.Login)
	if facts.Bio != "" {
		fmt.Fprintf(b, " (%s)", facts.Bio)
	}
	b.WriteString("\n")
	if len(facts.Languages) > 0 {
		fmt.Fprintf(b, "Languages: %s\n", strings.Join(facts.Languages, ", "))
	}
	for i, r := range facts.Repos {
		if i >= 10 {
			break
		}
		fmt.Fprintf(b, "Repo: %s (%s) %s\n", r.Name, r.Language, r.Description)
	}
}
