package gitlab

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/waitingtimes/pkg/config"
	apperrors "github.com/zatekoja/waitingtimes/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(&config.GitLabConfig{
		URL:          server.URL + "/",
		Token:        "secret",
		ProjectPath:  "health/waiting-times",
		ArtifactPath: "output/data.json",
		Timeout:      5 * time.Second,
	})
}

func TestListJobs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/graphql", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("PRIVATE-TOKEN"))

		var req graphQLRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "statuses: [SUCCESS]")
		assert.Equal(t, "health/waiting-times", req.Variables["fullPath"])
		assert.EqualValues(t, 2, req.Variables["first"])
		assert.Equal(t, "cursor-1", req.Variables["after"])

		_, _ = io.WriteString(w, `{"data":{"project":{"jobs":{
			"pageInfo":{"endCursor":"cursor-2","hasNextPage":true},
			"nodes":[
				{"name":"scrape","finishedAt":"2024-04-08T10:03:00Z","detailedStatus":{"detailsPath":"/health/waiting-times/-/jobs/456"}},
				{"name":"scrape","finishedAt":"2024-04-07T10:03:00Z","detailedStatus":{"detailsPath":"/health/waiting-times/-/jobs/123"}}
			]}}}}`)
	})

	page, err := client.ListJobs(context.Background(), 2, "cursor-1")
	require.NoError(t, err)

	assert.Equal(t, "cursor-2", page.EndCursor)
	assert.True(t, page.HasNextPage)
	require.Len(t, page.Jobs, 2)
	assert.Equal(t, "456", page.Jobs[0].ID)
	assert.Equal(t, "scrape", page.Jobs[0].Name)
	assert.Equal(t, time.Date(2024, 4, 8, 10, 3, 0, 0, time.UTC), page.Jobs[0].FinishedAt.UTC())
	assert.Equal(t, "123", page.Jobs[1].ID)
}

func TestListJobs_OmitsEmptyCursor(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, ok := req.Variables["after"]
		assert.False(t, ok)

		_, _ = io.WriteString(w, `{"data":{"project":{"jobs":{"pageInfo":{"endCursor":"","hasNextPage":false},"nodes":[]}}}}`)
	})

	page, err := client.ListJobs(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Empty(t, page.Jobs)
	assert.False(t, page.HasNextPage)
}

func TestListJobs_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType apperrors.ErrorType
	}{
		{
			name:     "non-2xx status",
			status:   http.StatusUnauthorized,
			body:     `{"message":"401 Unauthorized"}`,
			wantType: apperrors.ErrorTypeExternal,
		},
		{
			name:     "graphql errors",
			status:   http.StatusOK,
			body:     `{"errors":[{"message":"Field 'jobs' doesn't exist"}]}`,
			wantType: apperrors.ErrorTypeExternal,
		},
		{
			name:     "unknown project",
			status:   http.StatusOK,
			body:     `{"data":{"project":null}}`,
			wantType: apperrors.ErrorTypeNotFound,
		},
		{
			name:     "malformed body",
			status:   http.StatusOK,
			body:     `<html>`,
			wantType: apperrors.ErrorTypeExternal,
		},
		{
			name:   "details path without id",
			status: http.StatusOK,
			body: `{"data":{"project":{"jobs":{"pageInfo":{},"nodes":[
				{"name":"scrape","finishedAt":"2024-04-08T10:03:00Z","detailedStatus":{"detailsPath":"/health/waiting-times/-/jobs/"}}
			]}}}}`,
			wantType: apperrors.ErrorTypeExternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			page, err := client.ListJobs(context.Background(), 1, "")
			require.Error(t, err)
			assert.Nil(t, page)
			assert.Equal(t, tt.wantType, apperrors.TypeOf(err))
		})
	}
}

func TestFetchArtifact(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v4/projects/health%2Fwaiting-times/jobs/123/artifacts/output/data.json", r.URL.EscapedPath())
		assert.Equal(t, "secret", r.Header.Get("PRIVATE-TOKEN"))
		_, _ = io.WriteString(w, `{"start":"2024-04-07T10:00:00Z"}`)
	})

	data, err := client.FetchArtifact(context.Background(), "123")
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2024-04-07T10:00:00Z"}`, string(data))
}

func TestFetchArtifact_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	data, err := client.FetchArtifact(context.Background(), "999")
	require.Error(t, err)
	assert.Nil(t, data)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExternal))
	assert.Contains(t, err.Error(), "404")
}

func TestFetchArtifact_SizeLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"start":"2024-04-07T10:00:00Z"}`)
	})

	client.maxArtifact = int64(len(`{"start":"2024-04-07T10:00:00Z"}`))
	data, err := client.FetchArtifact(context.Background(), "123")
	require.NoError(t, err, "an artifact of exactly the limit is accepted")
	assert.Len(t, data, int(client.maxArtifact))

	client.maxArtifact--
	data, err = client.FetchArtifact(context.Background(), "123")
	require.Error(t, err)
	assert.Nil(t, data)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExternal))
	assert.Contains(t, err.Error(), "exceeds")
}

func TestFetchArtifact_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client := NewClient(&config.GitLabConfig{URL: server.URL, ProjectPath: "p", ArtifactPath: "a.json"})
	_, err := client.FetchArtifact(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExternal))
}

func TestJobIDFromDetailsPath(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "/group/project/-/jobs/123", want: "123"},
		{path: "/group/project/-/jobs/123/", want: "123"},
		{path: "7", want: "7"},
		{path: "/group/project/-/jobs/", wantErr: true},
		{path: "", wantErr: true},
		{path: "/group/project/-/jobs/abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := JobIDFromDetailsPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
