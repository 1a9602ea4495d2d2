package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devpath/devpath-backend/internal/platform/envutil"
	"github.com/devpath/devpath-backend/internal/platform/logger"
)

// ProfileFacts are the read-only developer facts fed into regeneration
// prompts: who the user is and what they have been working on.
type ProfileFacts struct {
	Login     string   `json:"login"`
	Name      string   `json:"name,omitempty"`
	Bio       string   `json:"bio,omitempty"`
	Languages []string `json:"languages,omitempty"`
	Repos     []Repo   `json:"repos,omitempty"`
}

type Repo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
	Stars       int    `json:"stars,omitempty"`
}

// ProfileProvider is the GitHub-like data provider. Read-only; failures
// surface to the executor as ordinary errors and fail the job.
type ProfileProvider interface {
	Facts(ctx context.Context) (*ProfileFacts, error)
}

type httpProfileProvider struct {
	httpClient *http.Client
	log        *logger.Logger
	baseURL    string
	user       string
}

func NewHTTPProfileProvider(baseLog *logger.Logger) (ProfileProvider, error) {
	user := envutil.String("PROFILE_USER", "")
	if user == "" {
		return nil, fmt.Errorf("PROFILE_USER is not set")
	}
	return &httpProfileProvider{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        baseLog.With("service", "ProfileProvider"),
		baseURL:    envutil.String("PROFILE_API_URL", "https://api.github.com"),
		user:       user,
	}, nil
}

func (p *httpProfileProvider) Facts(ctx context.Context) (*ProfileFacts, error) {
	var user struct {
		Login string `json:"login"`
		Name  string `json:"name"`
		Bio   string `json:"bio"`
	}
	var rawRepos []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Language    string `json:"language"`
		Stars       int    `json:"stargazers_count"`
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := p.getJSON(gctx, fmt.Sprintf("%s/users/%s", p.baseURL, p.user), &user); err != nil {
			return fmt.Errorf("fetch profile: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := p.getJSON(gctx, fmt.Sprintf("%s/users/%s/repos?sort=pushed&per_page=20", p.baseURL, p.user), &rawRepos); err != nil {
			return fmt.Errorf("fetch repos: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	facts := &ProfileFacts{
		Login: user.Login,
		Name:  user.Name,
		Bio:   user.Bio,
	}
	seen := map[string]bool{}
	for _, r := range rawRepos {
		facts.Repos = append(facts.Repos, Repo{
			Name:        r.Name,
			Description: r.Description,
			Language:    r.Language,
			Stars:       r.Stars,
		})
		if r.Language != "" && !seen[r.Language] {
			seen[r.Language] = true
			facts.Languages = append(facts.Languages, r.Language)
		}
	}
	return facts, nil
}

func (p *httpProfileProvider) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
