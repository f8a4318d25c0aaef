package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBranch(t *testing.T) {
	var createBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/acme/web/git/ref/heads/main":
			json.NewEncoder(w).Encode(map[string]any{
				"ref":    "refs/heads/main",
				"object": map[string]any{"sha": "abc123", "type": "commit"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/repos/acme/web/git/refs":
			assert.Contains(t, r.Header.Get("Authorization"), "tok")
			json.NewDecoder(r.Body).Decode(&createBody)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"ref":    createBody["ref"],
				"object": map[string]any{"sha": createBody["sha"], "type": "commit"},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	sc, err := NewGitHubSourceControl(srv.URL, "acme", "web", "tok")
	require.NoError(t, err)

	require.NoError(t, sc.CreateBranch(context.Background(), "devflow/task_1_0", "main"))
	assert.Equal(t, "refs/heads/devflow/task_1_0", createBody["ref"])
	assert.Equal(t, "abc123", createBody["sha"])
}

func TestCreateBranchAlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]any{
				"ref":    "refs/heads/main",
				"object": map[string]any{"sha": "abc", "type": "commit"},
			})
			return
		}
		// GitHub answers 422 for a ref that already exists.
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{"message": "Reference already exists"})
	}))
	defer srv.Close()

	sc, err := NewGitHubSourceControl(srv.URL, "acme", "web", "tok")
	require.NoError(t, err)
	assert.NoError(t, sc.CreateBranch(context.Background(), "existing", "main"))
}

func TestCreateBranchSurfacesBaseRefErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"message": "Not Found"})
	}))
	defer srv.Close()

	sc, err := NewGitHubSourceControl(srv.URL, "acme", "web", "tok")
	require.NoError(t, err)

	err = sc.CreateBranch(context.Background(), "feature", "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolving base ref ghost")
}

func TestMergeBranch(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/web/merges", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"sha": "merge123"})
	}))
	defer srv.Close()

	sc, err := NewGitHubSourceControl(srv.URL, "acme", "web", "tok")
	require.NoError(t, err)

	merged, err := sc.MergeBranch(context.Background(), "devflow/t1", "main", "Merge t1")
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, "devflow/t1", body["head"])
	assert.Equal(t, "main", body["base"])
	assert.Equal(t, "Merge t1", body["commit_message"])
}

func TestMergeBranchConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{"message": "Merge conflict"})
	}))
	defer srv.Close()

	sc, err := NewGitHubSourceControl(srv.URL, "acme", "web", "tok")
	require.NoError(t, err)

	merged, err := sc.MergeBranch(context.Background(), "devflow/t1", "main", "Merge t1")
	require.NoError(t, err)
	assert.False(t, merged)
}

func TestSourceControlRequiresConfig(t *testing.T) {
	_, err := NewGitHubSourceControl("", "", "web", "tok")
	assert.Error(t, err)
	_, err = NewGitHubSourceControl("", "acme", "web", "")
	assert.Error(t, err)
}
