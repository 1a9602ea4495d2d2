package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/devpath/devpath-backend/internal/platform/envutil"
	"github.com/devpath/devpath-backend/internal/platform/logger"
)

// Session is one live generation session. Destroy aborts whatever the
// session is doing; executors register it as the job's cancel capability.
type Session interface {
	Send(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string, onDelta func(delta string)) (string, error)
	Destroy(ctx context.Context) error
}

// SessionProvider hands out generation sessions. The provider itself is an
// external collaborator; everything here treats it as opaque.
type SessionProvider interface {
	Open(ctx context.Context) (Session, error)
}

type httpSessionProvider struct {
	httpClient *http.Client
	log        *logger.Logger
	apiKey     string
	baseURL    string
	model      string
}

func NewHTTPSessionProvider(baseLog *logger.Logger) (SessionProvider, error) {
	apiKey := envutil.String("AI_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("AI_API_KEY is not set")
	}
	return &httpSessionProvider{
		httpClient: &http.Client{
			Timeout: envutil.Duration("AI_REQUEST_TIMEOUT", 90*time.Second),
		},
		log:     baseLog.With("service", "SessionProvider"),
		apiKey:  apiKey,
		baseURL: strings.TrimRight(envutil.String("AI_BASE_URL", "https://api.openai.com/v1"), "/"),
		model:   envutil.String("AI_MODEL", "gpt-4o-mini"),
	}, nil
}

func (p *httpSessionProvider) Open(_ context.Context) (Session, error) {
	return &httpSession{provider: p}, nil
}

type httpSession struct {
	provider *httpSessionProvider

	mu        sync.Mutex
	cancels   []context.CancelFunc
	destroyed bool
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (s *httpSession) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, fmt.Errorf("session destroyed")
	}
	reqCtx, cancel := context.WithCancel(ctx)
	s.cancels = append(s.cancels, cancel)
	return reqCtx, nil
}

func (s *httpSession) Send(ctx context.Context, prompt string) (string, error) {
	reqCtx, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	body, _ := json.Marshal(chatRequest{
		Model:    s.provider.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	resp, err := s.do(reqCtx, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return out.Choices[0].Message.Content, nil
}

func (s *httpSession) Stream(ctx context.Context, prompt string, onDelta func(delta string)) (string, error) {
	reqCtx, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	body, _ := json.Marshal(chatRequest{
		Model:    s.provider.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   true,
	})
	resp, err := s.do(reqCtx, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}
		var chunk chatResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("read stream: %w", err)
	}
	return full.String(), nil
}

func (s *httpSession) do(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.provider.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.provider.apiKey)
	resp, err := s.provider.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("ai request failed: status=%d body=%s", resp.StatusCode, string(raw))
	}
	return resp, nil
}

// Destroy aborts all in-flight requests and refuses new ones.
func (s *httpSession) Destroy(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	return nil
}
