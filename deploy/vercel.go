package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/devrenanferrari/genesis/config"
	"github.com/devrenanferrari/genesis/core"
	"github.com/devrenanferrari/genesis/logger"
)

const vercelURL = "https://api.vercel.com"

var (
	ErrUnauthorized = errors.New("deployment API rejected the token")
	ErrDeployFailed = errors.New("deployment API error")
	ErrNoFiles      = errors.New("no files to deploy")
)

var (
	invalidNameChars = regexp.MustCompile(`[^a-z0-9._-]+`)
	dashRuns         = regexp.MustCompile(`-{3,}`)
)

// FallbackProjectName is used when a user and project leave no valid characters.
const FallbackProjectName = "genesis-project"

// ProjectName derives the deployment project name for a user's project.
// Vercel names are lowercase, at most 100 characters and never contain "---".
func ProjectName(userID, project string) string {
	name := invalidNameChars.ReplaceAllString(strings.ToLower(userID+"-"+project), "-")
	name = dashRuns.ReplaceAllString(name, "-")
	if len(name) > 100 {
		name = name[:100]
	}
	name = strings.Trim(name, "-.")
	if name == "" {
		return FallbackProjectName
	}
	return name
}

// Deployment is the state of one deployment as reported by the API.
type Deployment struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	ReadyState string   `json:"readyState"`
	Alias      []string `json:"alias,omitempty"`
}

// PublicURL is the https address of the deployment.
func (d *Deployment) PublicURL() string {
	if d.URL == "" || strings.HasPrefix(d.URL, "http") {
		return d.URL
	}
	return "https://" + d.URL
}

type deploymentFile struct {
	File string `json:"file"`
	Data string `json:"data"`
}

type deploymentRequest struct {
	Name            string           `json:"name"`
	Files           []deploymentFile `json:"files"`
	Target          string           `json:"target,omitempty"`
	ProjectSettings map[string]any   `json:"projectSettings"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// VercelClient creates deployments with inline file contents.
type VercelClient struct {
	token      string
	teamID     string
	target     string
	baseURL    string
	httpClient *http.Client
	logger     logger.Logger
}

func NewVercelClient(cfg config.DeployConfig, httpClient *http.Client, l logger.Logger) (*VercelClient, error) {
	if cfg.Token == "" {
		return nil, errors.New("deployment token is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if l == nil {
		l = logger.NewNullLogger()
	}
	baseURL := vercelURL
	if cfg.BaseURL != "" {
		baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return &VercelClient{
		token:      cfg.Token,
		teamID:     cfg.TeamID,
		target:     cfg.Target,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     l.WithField("component", "vercel"),
	}, nil
}

// Deploy uploads files as a new deployment of project name.
func (v *VercelClient) Deploy(ctx context.Context, name string, files map[string]string) (*Deployment, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	body := deploymentRequest{
		Name:   name,
		Target: v.target,
		// framework auto-detection
		ProjectSettings: map[string]any{"framework": nil},
	}
	for _, p := range paths {
		body.Files = append(body.Files, deploymentFile{File: p, Data: files[p]})
	}

	query := url.Values{}
	query.Set("skipAutoDetectionConfirmation", "1")
	var d Deployment
	if err := v.do(ctx, http.MethodPost, "/v13/deployments", query, body, &d); err != nil {
		return nil, err
	}
	v.logger.WithField("project", name).WithField("deployment", d.ID).Info("Deployment created")
	return &d, nil
}

// Get fetches the current state of a deployment.
func (v *VercelClient) Get(ctx context.Context, id string) (*Deployment, error) {
	var d Deployment
	if err := v.do(ctx, http.MethodGet, "/v13/deployments/"+url.PathEscape(id), url.Values{}, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (v *VercelClient) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}
	if v.teamID != "" {
		query.Set("teamId", v.teamID)
	}
	endpoint := v.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: error sending request: %w", ErrDeployFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: error reading response: %w", ErrDeployFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := string(respBody)
		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			detail = errResp.Error.Code + " - " + errResp.Error.Message
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
		}
		return fmt.Errorf("%w (status %d): %s", ErrDeployFailed, resp.StatusCode, detail)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: error unmarshaling response: %w", ErrDeployFailed, err)
	}
	return nil
}

type Deployer interface {
	Deploy(ctx context.Context, name string, files map[string]string) (*Deployment, error)
}

// Sink deploys every commit snapshot.
type Sink struct {
	client Deployer
}

func NewSink(client Deployer) *Sink {
	return &Sink{client: client}
}

func (s *Sink) Name() string { return "deploy" }

func (s *Sink) Materialize(ctx context.Context, snap core.Snapshot) (string, error) {
	d, err := s.client.Deploy(ctx, ProjectName(snap.UserID, snap.Project), snap.Files)
	if err != nil {
		return "", err
	}
	return d.PublicURL(), nil
}
