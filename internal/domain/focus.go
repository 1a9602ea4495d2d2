package domain

// Domain records carried inside stateful lifecycle items. These hold the
// generated content only; lifecycle state lives in the surrounding
// lifecycle.Stateful history.

type Challenge struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Language    string   `json:"language,omitempty"`
	Repo        string   `json:"repo,omitempty"`
	Steps       []string `json:"steps,omitempty"`
}

type Goal struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Horizon     string `json:"horizon,omitempty"`
}

type LearningTopic struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary,omitempty"`
	Resources   []string `json:"resources,omitempty"`
	RelatedRepo string   `json:"relatedRepo,omitempty"`
}
