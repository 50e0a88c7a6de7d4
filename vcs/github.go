package vcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/devrenanferrari/genesis/config"
	"github.com/devrenanferrari/genesis/core"
	"github.com/devrenanferrari/genesis/logger"
	"github.com/google/go-github/v66/github"
)

var ErrNoFiles = errors.New("no files to commit")

var invalidRepoChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FallbackRepoName is used when a user and project leave no valid characters.
const FallbackRepoName = "genesis-project"

// RepoName derives the hosted repository name for a user's project. The name
// is at most 100 characters and never starts or ends with '-' or '.'.
func RepoName(userID, project string) string {
	name := invalidRepoChars.ReplaceAllString(userID+"-"+project, "-")
	if len(name) > 100 {
		name = name[:100]
	}
	name = strings.Trim(name, "-.")
	if name == "" {
		return FallbackRepoName
	}
	return strings.ToLower(name)
}

// Repo is the subset of repository metadata callers need.
type Repo struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	DefaultBranch string `json:"default_branch"`
}

// Commit identifies a commit pushed to a repository.
type Commit struct {
	SHA string `json:"sha"`
	URL string `json:"url"`
}

type GitHubClient struct {
	client        *github.Client
	owner         string
	mu            sync.Mutex
	authenticated string
	branch        string
	private       bool
	logger        logger.Logger
}

// NewGitHubClient creates a client authenticated with cfg.Token. baseURL
// overrides the API endpoint and is only set by tests and enterprise hosts.
func NewGitHubClient(cfg config.GitHubConfig, baseURL string, l logger.Logger) (*GitHubClient, error) {
	if cfg.Token == "" {
		return nil, errors.New("github token is required")
	}
	if l == nil {
		l = logger.NewNullLogger()
	}
	client := github.NewClient(nil).WithAuthToken(cfg.Token)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		client.BaseURL = u
	}
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	return &GitHubClient{
		client:  client,
		owner:   cfg.Owner,
		branch:  branch,
		private: cfg.Private,
		logger:  l.WithField("component", "github"),
	}, nil
}

// Owner returns the configured owner, falling back to the authenticated user.
func (g *GitHubClient) Owner(ctx context.Context) (string, error) {
	if g.owner != "" {
		return g.owner, nil
	}
	return g.login(ctx)
}

func (g *GitHubClient) login(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.authenticated != "" {
		return g.authenticated, nil
	}
	user, _, err := g.client.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("failed to resolve authenticated user: %w", err)
	}
	g.authenticated = user.GetLogin()
	return g.authenticated, nil
}

// EnsureRepo returns the repository, creating it with an initial commit when missing.
func (g *GitHubClient) EnsureRepo(ctx context.Context, name string) (*Repo, error) {
	owner, err := g.Owner(ctx)
	if err != nil {
		return nil, err
	}

	repo, _, err := g.client.Repositories.Get(ctx, owner, name)
	if err == nil {
		return toRepo(repo), nil
	}
	if !hasStatus(err, http.StatusNotFound) {
		return nil, fmt.Errorf("failed to get repository %s/%s: %w", owner, name, err)
	}

	g.logger.WithField("repo", name).Info("Creating repository")
	// Repositories for another owner are created in that organization.
	org := ""
	login, err := g.login(ctx)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(login, owner) {
		org = owner
	}
	repo, _, err = g.client.Repositories.Create(ctx, org, &github.Repository{
		Name:        github.String(name),
		Private:     github.Bool(g.private),
		AutoInit:    github.Bool(true),
		Description: github.String("Generated by Genesis"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create repository %s: %w", name, err)
	}
	return toRepo(repo), nil
}

// CommitFiles replaces the branch tree with files in a single commit.
func (g *GitHubClient) CommitFiles(ctx context.Context, name, message string, files map[string]string) (*Commit, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	owner, err := g.Owner(ctx)
	if err != nil {
		return nil, err
	}
	refName := "heads/" + g.branch

	ref, _, err := g.client.Git.GetRef(ctx, owner, name, refName)
	if err != nil {
		if !hasStatus(err, http.StatusNotFound) && !hasStatus(err, http.StatusConflict) {
			return nil, fmt.Errorf("failed to get ref %s: %w", refName, err)
		}
		if ref, err = g.bootstrap(ctx, owner, name, refName); err != nil {
			return nil, err
		}
	}

	entries := make([]*github.TreeEntry, 0, len(files))
	for _, p := range sortedPaths(files) {
		entries = append(entries, &github.TreeEntry{
			Path:    github.String(p),
			Mode:    github.String("100644"),
			Type:    github.String("blob"),
			Content: github.String(files[p]),
		})
	}
	// No base tree: the commit holds exactly the snapshot.
	tree, _, err := g.client.Git.CreateTree(ctx, owner, name, "", entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create tree: %w", err)
	}

	parent := &github.Commit{SHA: ref.Object.SHA}
	commit, _, err := g.client.Git.CreateCommit(ctx, owner, name, &github.Commit{
		Message: github.String(message),
		Tree:    tree,
		Parents: []*github.Commit{parent},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create commit: %w", err)
	}

	ref.Object.SHA = commit.SHA
	if _, _, err := g.client.Git.UpdateRef(ctx, owner, name, ref, false); err != nil {
		return nil, fmt.Errorf("failed to update ref %s: %w", refName, err)
	}

	g.logger.WithField("repo", name).WithField("sha", commit.GetSHA()).Info("Pushed commit")
	htmlURL := commit.GetHTMLURL()
	if htmlURL == "" {
		htmlURL = fmt.Sprintf("https://github.com/%s/%s/commit/%s", owner, name, commit.GetSHA())
	}
	return &Commit{SHA: commit.GetSHA(), URL: htmlURL}, nil
}

// bootstrap gives an empty repository its first commit so the git data API can be used.
func (g *GitHubClient) bootstrap(ctx context.Context, owner, name, refName string) (*github.Reference, error) {
	g.logger.WithField("repo", name).Info("Repository is empty, creating initial commit")
	_, _, err := g.client.Repositories.CreateFile(ctx, owner, name, "README.md", &github.RepositoryContentFileOptions{
		Message: github.String("Initial commit"),
		Content: []byte("# " + name + "\n"),
		Branch:  github.String(g.branch),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	ref, _, err := g.client.Git.GetRef(ctx, owner, name, refName)
	if err != nil {
		return nil, fmt.Errorf("failed to get ref %s: %w", refName, err)
	}
	return ref, nil
}

// Push ensures the repository exists and commits files to it.
func (g *GitHubClient) Push(ctx context.Context, name, message string, files map[string]string) (*Repo, *Commit, error) {
	repo, err := g.EnsureRepo(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	commit, err := g.CommitFiles(ctx, name, message, files)
	if err != nil {
		return repo, nil, err
	}
	return repo, commit, nil
}

// Pusher commits a full file set to a named repository, creating it when needed.
type Pusher interface {
	Push(ctx context.Context, name, message string, files map[string]string) (*Repo, *Commit, error)
}

// Sink pushes every commit snapshot to the user's project repository.
type Sink struct {
	client Pusher
}

func NewSink(client Pusher) *Sink {
	return &Sink{client: client}
}

func (s *Sink) Name() string { return "git" }

func (s *Sink) Materialize(ctx context.Context, snap core.Snapshot) (string, error) {
	message := snap.Message
	if message == "" {
		message = fmt.Sprintf("commit %d", snap.Sequence)
	}
	_, commit, err := s.client.Push(ctx, RepoName(snap.UserID, snap.Project), message, snap.Files)
	if err != nil {
		return "", err
	}
	return commit.URL, nil
}

func toRepo(r *github.Repository) *Repo {
	return &Repo{
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		URL:           r.GetHTMLURL(),
		DefaultBranch: r.GetDefaultBranch(),
	}
}

func hasStatus(err error, status int) bool {
	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return errResp.Response.StatusCode == status
	}
	return false
}

func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
