package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// LinearTracker implements Tracker against Linear's GraphQL API.
type LinearTracker struct {
	apiURL string
	apiKey string
	teamID string
	http   *http.Client
}

// NewLinearTracker creates a tracker client. apiURL defaults to the
// public Linear endpoint.
func NewLinearTracker(apiURL, apiKey, teamID string) (*LinearTracker, error) {
	if apiKey == "" {
		return nil, errors.New("tracker api key is required")
	}
	if teamID == "" {
		return nil, errors.New("tracker team id is required")
	}
	if apiURL == "" {
		apiURL = "https://api.linear.app/graphql"
	}
	return &LinearTracker{
		apiURL: apiURL,
		apiKey: apiKey,
		teamID: teamID,
		http:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// CreateProject creates a project and returns its id.
func (t *LinearTracker) CreateProject(ctx context.Context, name, description string) (string, error) {
	const mutation = `
	mutation CreateProject($input: ProjectCreateInput!) {
		projectCreate(input: $input) {
			success
			project { id }
		}
	}`

	var out struct {
		ProjectCreate struct {
			Success bool `json:"success"`
			Project struct {
				ID string `json:"id"`
			} `json:"project"`
		} `json:"projectCreate"`
	}
	input := map[string]any{
		"name":        name,
		"description": description,
		"teamIds":     []string{t.teamID},
	}
	if err := t.execute(ctx, mutation, map[string]any{"input": input}, &out); err != nil {
		return "", fmt.Errorf("creating tracker project %q: %w", name, err)
	}
	if !out.ProjectCreate.Success {
		return "", fmt.Errorf("tracker rejected project %q", name)
	}
	return out.ProjectCreate.Project.ID, nil
}

// CreateTask creates an issue in the team, optionally under a project.
func (t *LinearTracker) CreateTask(ctx context.Context, title, description, projectID string) (TrackerTask, error) {
	const mutation = `
	mutation CreateIssue($input: IssueCreateInput!) {
		issueCreate(input: $input) {
			success
			issue { id url }
		}
	}`

	var out struct {
		IssueCreate struct {
			Success bool `json:"success"`
			Issue   struct {
				ID  string `json:"id"`
				URL string `json:"url"`
			} `json:"issue"`
		} `json:"issueCreate"`
	}
	input := map[string]any{
		"title":       title,
		"description": description,
		"teamId":      t.teamID,
	}
	if projectID != "" {
		input["projectId"] = projectID
	}
	if err := t.execute(ctx, mutation, map[string]any{"input": input}, &out); err != nil {
		return TrackerTask{}, fmt.Errorf("creating tracker task %q: %w", title, err)
	}
	if !out.IssueCreate.Success {
		return TrackerTask{}, fmt.Errorf("tracker rejected task %q", title)
	}
	return TrackerTask{ID: out.IssueCreate.Issue.ID, URL: out.IssueCreate.Issue.URL}, nil
}

// UpdateTask applies field updates to an issue. Supported fields are
// passed through as-is; the tracker validates them.
func (t *LinearTracker) UpdateTask(ctx context.Context, taskID string, fields map[string]string) error {
	const mutation = `
	mutation UpdateIssue($id: String!, $input: IssueUpdateInput!) {
		issueUpdate(id: $id, input: $input) {
			success
		}
	}`

	input := make(map[string]any, len(fields))
	for k, v := range fields {
		input[k] = v
	}
	var out struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	if err := t.execute(ctx, mutation, map[string]any{"id": taskID, "input": input}, &out); err != nil {
		return fmt.Errorf("updating tracker task %s: %w", taskID, err)
	}
	if !out.IssueUpdate.Success {
		return fmt.Errorf("tracker rejected update for task %s", taskID)
	}
	return nil
}

// execute posts one GraphQL request and decodes the data payload into out.
func (t *LinearTracker) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("encoding graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", t.apiKey)

	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("tracker API returned %d: %s", resp.StatusCode, payload)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding graphql response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", envelope.Errors[0].Message)
	}
	return json.Unmarshal(envelope.Data, out)
}
