package tools

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
)

// githubAPIBase is the GitHub REST API root. Fixed, not provider-configurable
// — GitHub is the only supported source host (SPEC_FULL.md §4.7/C12).
const githubAPIBase = "https://api.github.com"

// GithubClient is the C12 fetch client: a thin wrapper over GitHub's REST
// API with a fixed Accept header and an optional bearer token, mapping
// 404/401/403 to typed errors per SPEC_FULL.md §4.7.
type GithubClient struct {
	httpClient *http.Client
}

// NewGithubClient builds a client with a bounded per-request timeout.
func NewGithubClient() *GithubClient {
	return &GithubClient{httpClient: &http.Client{Timeout: 15 * time.Second}}
}

func (c *GithubClient) do(token, url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building github request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Transient("github fetch", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Transient("github fetch: reading body", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, apperrors.NotFound(fmt.Sprintf("github: %s", url))
	case http.StatusUnauthorized:
		return nil, apperrors.Permission(fmt.Sprintf("github: unauthorized fetching %s", url))
	case http.StatusForbidden:
		return nil, apperrors.Permission(fmt.Sprintf("github: forbidden (rate-limited or private) fetching %s", url))
	default:
		return nil, apperrors.Transient("github fetch", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url))
	}
}

type githubFileResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int    `json:"size"`
}

// FetchFile retrieves a single file's content at the given ref (branch, or
// the repo default if empty).
func (c *GithubClient) FetchFile(token, owner, repo, path, branch string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", githubAPIBase, owner, repo, path)
	if branch != "" {
		url += "?ref=" + branch
	}
	body, err := c.do(token, url)
	if err != nil {
		return "", err
	}
	var parsed githubFileResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding github file response: %w", err)
	}
	if parsed.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(parsed.Content)
		if err != nil {
			return "", fmt.Errorf("decoding base64 file content: %w", err)
		}
		return string(decoded), nil
	}
	return parsed.Content, nil
}

type githubTreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size int    `json:"size"`
}

// ListFiles lists files (recursively, via the git trees API) under path
// (the repo root when empty) at the given ref.
func (c *GithubClient) ListFiles(token, owner, repo, path, branch string) ([]githubTreeEntry, error) {
	ref := branch
	if ref == "" {
		ref = "HEAD"
	}
	url := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", githubAPIBase, owner, repo, ref)
	body, err := c.do(token, url)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Tree []githubTreeEntry `json:"tree"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding github tree response: %w", err)
	}
	if path == "" {
		return parsed.Tree, nil
	}
	var filtered []githubTreeEntry
	for _, e := range parsed.Tree {
		if len(e.Path) >= len(path) && e.Path[:len(path)] == path {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

type githubRepoInfo struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
	Size          int    `json:"size"`
	Language      string `json:"language"`
}

// RepoInfo retrieves repository metadata.
func (c *GithubClient) RepoInfo(token, owner, repo string) (*githubRepoInfo, error) {
	url := fmt.Sprintf("%s/repos/%s/%s", githubAPIBase, owner, repo)
	body, err := c.do(token, url)
	if err != nil {
		return nil, err
	}
	var parsed githubRepoInfo
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding github repo response: %w", err)
	}
	return &parsed, nil
}

// --- Tool wrappers ---

// FetchGithubFileTool implements fetch_github_file.
// sourceMasker redacts secrets from fetched file content before it is
// embedded in a prompt or persisted in a reasoning step. Satisfied by
// *masking.Service; kept as a narrow interface here so pkg/tools doesn't
// import pkg/masking just to wire one optional dependency.
type sourceMasker interface {
	Mask(content string) string
}

type FetchGithubFileTool struct {
	client *GithubClient
	masker sourceMasker
}

func NewFetchGithubFileTool(client *GithubClient) *FetchGithubFileTool {
	return &FetchGithubFileTool{client: client}
}

// WithMasker enables source masking on every file this tool fetches.
func (t *FetchGithubFileTool) WithMasker(m sourceMasker) *FetchGithubFileTool {
	t.masker = m
	return t
}

func (t *FetchGithubFileTool) Name() string        { return "fetch_github_file" }
func (t *FetchGithubFileTool) Description() string { return "Fetch a single file's content from a GitHub repository." }
func (t *FetchGithubFileTool) RequiredPermission() Permission { return PermissionRead }
func (t *FetchGithubFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"owner", "repo", "path"},
		"properties": map[string]any{
			"owner":  map[string]any{"type": "string"},
			"repo":   map[string]any{"type": "string"},
			"path":   map[string]any{"type": "string"},
			"branch": map[string]any{"type": "string"},
		},
	}
}

func (t *FetchGithubFileTool) Execute(ctx *Context, input map[string]any) (*Result, error) {
	owner, _ := input["owner"].(string)
	repo, _ := input["repo"].(string)
	path, _ := input["path"].(string)
	branch, _ := input["branch"].(string)
	if owner == "" || repo == "" || path == "" {
		return &Result{Success: false, Error: "owner, repo, and path are required"}, nil
	}

	content, err := t.client.FetchFile(ctx.GithubToken, owner, repo, path, branch)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if t.masker != nil {
		content = t.masker.Mask(content)
	}
	return &Result{Success: true, Data: map[string]any{"content": content, "path": path}}, nil
}

// ListRepoFilesTool implements list_repo_files.
type ListRepoFilesTool struct{ client *GithubClient }

func NewListRepoFilesTool(client *GithubClient) *ListRepoFilesTool {
	return &ListRepoFilesTool{client: client}
}

func (t *ListRepoFilesTool) Name() string        { return "list_repo_files" }
func (t *ListRepoFilesTool) Description() string { return "List files in a GitHub repository, optionally under a path." }
func (t *ListRepoFilesTool) RequiredPermission() Permission { return PermissionRead }
func (t *ListRepoFilesTool) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"owner", "repo"},
		"properties": map[string]any{
			"owner":  map[string]any{"type": "string"},
			"repo":   map[string]any{"type": "string"},
			"path":   map[string]any{"type": "string"},
			"branch": map[string]any{"type": "string"},
		},
	}
}

func (t *ListRepoFilesTool) Execute(ctx *Context, input map[string]any) (*Result, error) {
	owner, _ := input["owner"].(string)
	repo, _ := input["repo"].(string)
	path, _ := input["path"].(string)
	branch, _ := input["branch"].(string)
	if owner == "" || repo == "" {
		return &Result{Success: false, Error: "owner and repo are required"}, nil
	}

	entries, err := t.client.ListFiles(ctx.GithubToken, owner, repo, path, branch)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	files := make([]map[string]any, len(entries))
	for i, e := range entries {
		files[i] = map[string]any{"path": e.Path, "type": e.Type, "size": e.Size}
	}
	return &Result{Success: true, Data: map[string]any{"files": files}}, nil
}

// GetRepoInfoTool implements get_repo_info.
type GetRepoInfoTool struct{ client *GithubClient }

func NewGetRepoInfoTool(client *GithubClient) *GetRepoInfoTool {
	return &GetRepoInfoTool{client: client}
}

func (t *GetRepoInfoTool) Name() string        { return "get_repo_info" }
func (t *GetRepoInfoTool) Description() string { return "Fetch repository metadata (default branch, size, primary language)." }
func (t *GetRepoInfoTool) RequiredPermission() Permission { return PermissionRead }
func (t *GetRepoInfoTool) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"owner", "repo"},
		"properties": map[string]any{
			"owner": map[string]any{"type": "string"},
			"repo":  map[string]any{"type": "string"},
		},
	}
}

func (t *GetRepoInfoTool) Execute(ctx *Context, input map[string]any) (*Result, error) {
	owner, _ := input["owner"].(string)
	repo, _ := input["repo"].(string)
	if owner == "" || repo == "" {
		return &Result{Success: false, Error: "owner and repo are required"}, nil
	}

	info, err := t.client.RepoInfo(ctx.GithubToken, owner, repo)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	return &Result{Success: true, Data: map[string]any{
		"full_name":      info.FullName,
		"default_branch": info.DefaultBranch,
		"private":        info.Private,
		"size":           info.Size,
		"language":       info.Language,
	}}, nil
}
