package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
)

// GitHubSourceControl implements SourceControl against the GitHub API for
// a single repository.
type GitHubSourceControl struct {
	client *github.Client
	owner  string
	repo   string
}

// NewGitHubSourceControl creates a source-control client for owner/repo.
// apiURL overrides the public GitHub endpoint when non-empty.
func NewGitHubSourceControl(apiURL, owner, repo, token string) (*GitHubSourceControl, error) {
	if owner == "" || repo == "" {
		return nil, errors.New("source control owner and repo are required")
	}
	if token == "" {
		return nil, errors.New("source control token is required")
	}

	client := github.NewClient(nil).WithAuthToken(token)
	if apiURL != "" {
		base, err := url.Parse(strings.TrimSuffix(apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing source control api url: %w", err)
		}
		client.BaseURL = base
	}
	return &GitHubSourceControl{client: client, owner: owner, repo: repo}, nil
}

// CreateBranch creates a branch at the tip of fromRef. An already
// existing branch is not an error; dispatch must be idempotent across
// resume.
func (g *GitHubSourceControl) CreateBranch(ctx context.Context, name, fromRef string) error {
	ref, _, err := g.client.Git.GetRef(ctx, g.owner, g.repo, "heads/"+fromRef)
	if err != nil {
		return fmt.Errorf("resolving base ref %s: %w", fromRef, err)
	}

	_, _, err = g.client.Git.CreateRef(ctx, g.owner, g.repo, &github.Reference{
		Ref:    github.String("refs/heads/" + name),
		Object: &github.GitObject{SHA: ref.Object.SHA},
	})
	if err != nil {
		// GitHub answers 422 for a ref that already exists.
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response.StatusCode == http.StatusUnprocessableEntity {
			return nil
		}
		return fmt.Errorf("creating branch %s: %w", name, err)
	}
	return nil
}

// MergeBranch merges head into base. Returns false without error when
// the merge cannot be performed cleanly (conflict); the caller decides
// what to do with an unmergeable branch.
func (g *GitHubSourceControl) MergeBranch(ctx context.Context, head, base, message string) (bool, error) {
	_, _, err := g.client.Repositories.Merge(ctx, g.owner, g.repo, &github.RepositoryMergeRequest{
		Base:          github.String(base),
		Head:          github.String(head),
		CommitMessage: github.String(message),
	})
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response.StatusCode == http.StatusConflict {
			return false, nil
		}
		return false, fmt.Errorf("merging %s into %s: %w", head, base, err)
	}
	return true, nil
}
