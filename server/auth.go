package server

import (
	"net/http"
	"strings"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c credentials) validate() error {
	if strings.TrimSpace(c.Email) == "" || c.Password == "" {
		return badRequest("email and password are required")
	}
	if !strings.Contains(c.Email, "@") {
		return badRequest("invalid email")
	}
	return nil
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[credentials](w, r)
	if !ok {
		return
	}
	if err := req.validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.backend.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[credentials](w, r)
	if !ok {
		return
	}
	if err := req.validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.backend.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}
