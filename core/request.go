package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/devrenanferrari/genesis/fs"
)

// Request indicates the user's request for a new project.
type Request struct {
	UserID  string `json:"user_id"`
	Project string `json:"project"`
	Prompt  string `json:"prompt"`
	Model   string `json:"model,omitempty"`
}

func NewRequest(userID, project, prompt string) *Request {
	return &Request{
		UserID:  userID,
		Project: project,
		Prompt:  prompt,
	}
}

func (r *Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt is required")
	}
	if err := fs.SafeName(r.UserID); err != nil {
		return fmt.Errorf("user_id: %w", err)
	}
	if err := fs.SafeName(r.Project); err != nil {
		return fmt.Errorf("project: %w", err)
	}
	return nil
}
