package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/zatekoja/waitingtimes/internal/domain/entities"
	"github.com/zatekoja/waitingtimes/internal/domain/providers"
	"github.com/zatekoja/waitingtimes/pkg/config"
	apperrors "github.com/zatekoja/waitingtimes/pkg/errors"
)

const jobsQuery = `query($fullPath: ID!, $first: Int!, $after: String) {
  project(fullPath: $fullPath) {
    jobs(first: $first, after: $after, statuses: [SUCCESS]) {
      pageInfo { endCursor hasNextPage }
      nodes {
        name
        finishedAt
        detailedStatus { detailsPath }
      }
    }
  }
}`

// maxArtifactBytes caps a single artifact download
const maxArtifactBytes = 64 << 20

// HTTPClient discovers scrape jobs through the GitLab GraphQL API and
// downloads their artifacts through the REST API.
type HTTPClient struct {
	baseURL      string
	token        string
	projectPath  string
	artifactPath string
	maxArtifact  int64
	httpClient   *http.Client
}

var _ providers.JobSource = (*HTTPClient)(nil)

// NewClient creates a GitLab client
func NewClient(cfg *config.GitLabConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		token:        cfg.Token,
		projectPath:  cfg.ProjectPath,
		artifactPath: strings.TrimLeft(cfg.ArtifactPath, "/"),
		maxArtifact:  maxArtifactBytes,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type jobsResponse struct {
	Data struct {
		Project *struct {
			Jobs struct {
				PageInfo struct {
					EndCursor   string `json:"endCursor"`
					HasNextPage bool   `json:"hasNextPage"`
				} `json:"pageInfo"`
				Nodes []struct {
					Name           string    `json:"name"`
					FinishedAt     time.Time `json:"finishedAt"`
					DetailedStatus struct {
						DetailsPath string `json:"detailsPath"`
					} `json:"detailedStatus"`
				} `json:"nodes"`
			} `json:"jobs"`
		} `json:"project"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// ListJobs returns up to first successful jobs, newest first
func (c *HTTPClient) ListJobs(ctx context.Context, first int, after string) (*entities.SourceJobPage, error) {
	variables := map[string]interface{}{
		"fullPath": c.projectPath,
		"first":    first,
	}
	if after != "" {
		variables["after"] = after
	}

	body, err := json.Marshal(graphQLRequest{Query: jobsQuery, Variables: variables})
	if err != nil {
		return nil, apperrors.NewTransportError("failed to encode job query", err)
	}

	out := &jobsResponse{}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/graphql", bytes.NewReader(body), out); err != nil {
		return nil, err
	}
	if len(out.Errors) > 0 {
		return nil, apperrors.NewTransportError(fmt.Sprintf("job query failed: %s", out.Errors[0].Message), nil)
	}
	if out.Data.Project == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("project %s not found", c.projectPath))
	}

	jobs := out.Data.Project.Jobs
	page := &entities.SourceJobPage{
		Jobs:        make([]entities.SourceJob, 0, len(jobs.Nodes)),
		EndCursor:   jobs.PageInfo.EndCursor,
		HasNextPage: jobs.PageInfo.HasNextPage,
	}
	for _, node := range jobs.Nodes {
		id, err := JobIDFromDetailsPath(node.DetailedStatus.DetailsPath)
		if err != nil {
			return nil, apperrors.NewTransportError("unexpected job listing", err)
		}
		page.Jobs = append(page.Jobs, entities.SourceJob{
			ID:         id,
			Name:       node.Name,
			FinishedAt: node.FinishedAt,
		})
	}
	return page, nil
}

// FetchArtifact downloads the configured artifact file of a job
func (c *HTTPClient) FetchArtifact(ctx context.Context, jobID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/api/v4/projects/%s/jobs/%s/artifacts/%s",
		c.baseURL,
		url.PathEscape(c.projectPath),
		url.PathEscape(jobID),
		c.artifactPath,
	)

	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxArtifact+1))
	if err != nil {
		return nil, apperrors.NewTransportError(fmt.Sprintf("failed to read artifact of job %s", jobID), err)
	}
	if int64(len(data)) > c.maxArtifact {
		return nil, apperrors.NewTransportError(
			fmt.Sprintf("artifact of job %s exceeds the %d byte limit", jobID, c.maxArtifact), nil)
	}
	return data, nil
}

// JobIDFromDetailsPath extracts the job id from a detailsPath such as
// "/group/project/-/jobs/123".
func JobIDFromDetailsPath(detailsPath string) (string, error) {
	id := path.Base(strings.TrimRight(detailsPath, "/"))
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return "", fmt.Errorf("details path %q has no job id", detailsPath)
	}
	return id, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, endpoint string, body io.Reader, out interface{}) error {
	resp, err := c.do(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewTransportError("failed to decode gitlab response", err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, apperrors.NewTransportError("failed to build gitlab request", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("PRIVATE-TOKEN", c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewTransportError("gitlab request failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, apperrors.NewTransportError(fmt.Sprintf("gitlab returned status %d", resp.StatusCode), nil)
	}
	return resp, nil
}
