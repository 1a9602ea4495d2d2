package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devpath/devpath-backend/internal/domain"
	"github.com/devpath/devpath-backend/internal/platform/envutil"
)

// JobAPI is the manager's view of the job service. GetJob returns (nil, nil)
// for a job that no longer exists.
type JobAPI interface {
	CreateJob(ctx context.Context, jobType, targetID string, input map[string]any) (*domain.Job, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	CancelJob(ctx context.Context, id string) (bool, error)
}

type httpJobAPI struct {
	client  *http.Client
	baseURL string
}

// NewHTTPJobAPI talks to the job endpoints over HTTP. Base URL comes from
// JOBS_API_URL.
func NewHTTPJobAPI() JobAPI {
	return &httpJobAPI{
		client:  &http.Client{Timeout: envutil.Duration("JOBS_API_TIMEOUT", 10*time.Second)},
		baseURL: strings.TrimRight(envutil.String("JOBS_API_URL", "http://localhost:8080/api"), "/"),
	}
}

func (a *httpJobAPI) CreateJob(ctx context.Context, jobType, targetID string, input map[string]any) (*domain.Job, error) {
	body, err := json.Marshal(map[string]any{
		"type":     jobType,
		"targetId": targetID,
		"input":    input,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var job domain.Job
	if err := a.do(req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (a *httpJobAPI) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/jobs/"+id, nil)
	if err != nil {
		return nil, err
	}
	var job domain.Job
	if err := a.do(req, &job); err != nil {
		if err == errNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (a *httpJobAPI) CancelJob(ctx context.Context, id string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.baseURL+"/jobs/"+id, nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := a.do(req, &out); err != nil {
		if err == errNotFound {
			return false, nil
		}
		return false, err
	}
	return out.Cancelled, nil
}

var errNotFound = fmt.Errorf("not found")

func (a *httpJobAPI) do(req *http.Request, out any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("job api: status=%d body=%s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 {
		return json.Unmarshal(envelope.Data, out)
	}
	return json.Unmarshal(raw, out)
}
