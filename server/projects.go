package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/devrenanferrari/genesis/backend"
	"github.com/devrenanferrari/genesis/deploy"
	"github.com/devrenanferrari/genesis/fs"
	"github.com/devrenanferrari/genesis/vcs"
	"github.com/go-chi/chi/v5"
)

const defaultDeployMessage = "Deploy from Genesis"

type projectFilesRequest struct {
	UserID  string            `json:"user_id"`
	Project string            `json:"project"`
	Files   map[string]string `json:"files"`
}

type projectFilesResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Path    string `json:"path"`
	Files   int    `json:"files"`
}

func (s *Server) handleCreateProjectFiles(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[projectFilesRequest](w, r)
	if !ok {
		return
	}
	root, err := fs.ProjectRoot(req.UserID, req.Project)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(req.Files) == 0 {
		s.fail(w, r, badRequest("files are required"))
		return
	}

	n, err := s.fs.WriteFiles(root, req.Files)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.WithField("path", root).WithField("files", n).Info("Project files written")
	writeJSON(w, http.StatusOK, projectFilesResponse{
		Success: true,
		Message: fmt.Sprintf("Project '%s' created at %s", req.Project, root),
		Path:    root,
		Files:   n,
	})
}

type deployRequest struct {
	UserID  string            `json:"user_id"`
	Project string            `json:"project"`
	Files   map[string]string `json:"files,omitempty"`
	Message string            `json:"message,omitempty"`
}

type deployResponse struct {
	RepoURL       string `json:"repo_url,omitempty"`
	CommitSHA     string `json:"commit_sha,omitempty"`
	CommitURL     string `json:"commit_url,omitempty"`
	DeploymentID  string `json:"deployment_id,omitempty"`
	DeploymentURL string `json:"deployment_url,omitempty"`
	GitError      string `json:"git_error,omitempty"`
	DeployError   string `json:"deploy_error,omitempty"`
}

// handleDeployProject pushes the project to the git host and deploys it.
// Either side may fail alone; the call only fails when everything attempted failed.
func (s *Server) handleDeployProject(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[deployRequest](w, r)
	if !ok {
		return
	}
	root, err := fs.ProjectRoot(req.UserID, req.Project)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.git == nil && s.deployer == nil {
		writeError(w, http.StatusServiceUnavailable, "no git host or deployment target configured")
		return
	}

	files := req.Files
	if len(files) == 0 {
		if !s.fs.IsDir(root) {
			s.fail(w, r, fmt.Errorf("project %s: %w", req.Project, backend.ErrNotFound))
			return
		}
		if files, err = s.fs.ReadFiles(root); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if len(files) == 0 {
		s.fail(w, r, badRequest("project has no files"))
		return
	}
	message := req.Message
	if strings.TrimSpace(message) == "" {
		message = defaultDeployMessage
	}

	var resp deployResponse
	attempted, failed := 0, 0
	l := s.logger.WithField("user_id", req.UserID).WithField("project", req.Project)

	if s.git != nil {
		attempted++
		repo, commit, err := s.git.Push(r.Context(), vcs.RepoName(req.UserID, req.Project), message, files)
		if repo != nil {
			resp.RepoURL = repo.URL
		}
		if err != nil {
			failed++
			resp.GitError = err.Error()
			l.WithError(err).Error("Git push failed")
		} else {
			resp.CommitSHA = commit.SHA
			resp.CommitURL = commit.URL
		}
	}

	if s.deployer != nil {
		attempted++
		d, err := s.deployer.Deploy(r.Context(), deploy.ProjectName(req.UserID, req.Project), files)
		if err != nil {
			failed++
			resp.DeployError = err.Error()
			l.WithError(err).Error("Deployment failed")
		} else {
			resp.DeploymentID = d.ID
			resp.DeploymentURL = d.PublicURL()
		}
	}

	status := http.StatusOK
	if failed == attempted {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.fail(w, r, badRequest("user_id is required"))
		return
	}
	projects, err := s.backend.ListProjects(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

type projectDetail struct {
	Project *backend.Project       `json:"project"`
	Commits []backend.CommitRecord `json:"commits"`
	Tree    map[string]any         `json:"tree,omitempty"`
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	userID, name := chi.URLParam(r, "userID"), chi.URLParam(r, "project")
	root, err := fs.ProjectRoot(userID, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	project, err := s.backend.GetProject(r.Context(), userID, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	commits, err := s.backend.ListCommits(r.Context(), project.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	detail := projectDetail{Project: project, Commits: commits}
	if s.fs.IsDir(root) {
		if detail.Tree, err = s.fs.ListFiles(root); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDownloadProject(w http.ResponseWriter, r *http.Request) {
	userID, name := chi.URLParam(r, "userID"), chi.URLParam(r, "project")
	root, err := fs.ProjectRoot(userID, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !s.fs.IsDir(root) {
		s.fail(w, r, fmt.Errorf("project %s: %w", name, backend.ErrNotFound))
		return
	}

	var buf bytes.Buffer
	if err := s.fs.WriteToZip(&buf, root); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".zip"))
	w.Header().Set("Content-Length", fmt.Sprint(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
