package server

import (
	"net/http"
	"time"

	"brokerdash/internal/auth"
	"brokerdash/internal/broker"
	"brokerdash/internal/models"
	"brokerdash/internal/security"
)

// userView is the public shape of a user. It never carries secrets.
type userView struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	CreatedAt time.Time   `json:"created_at"`
	Broker    *brokerView `json:"broker,omitempty"`
}

type brokerView struct {
	ClientCode string    `json:"client_code"`
	LinkedAt   time.Time `json:"linked_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func newUserView(u *models.User) userView {
	v := userView{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
	if u.Broker != nil {
		v.Broker = newBrokerView(u.Broker)
	}
	return v
}

func newBrokerView(b *models.BrokerSession) *brokerView {
	return &brokerView{ClientCode: b.ClientCode, LinkedAt: b.LinkedAt, ExpiresAt: b.ExpiresAt}
}

type authResponse struct {
	Token string   `json:"token"`
	User  userView `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, token, err := s.auth.Register(r.Context(), req)
	event := security.AuditEvent{EventType: security.AuditRegister}
	if user != nil {
		event.UserID = user.ID
	}
	s.recordAudit(r, event, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeData(w, http.StatusCreated, authResponse{Token: token, User: newUserView(user)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	event := security.AuditEvent{EventType: security.AuditLogin, Details: map[string]interface{}{"email": req.Email}}
	if user != nil {
		event.UserID = user.ID
	}
	s.recordAudit(r, event, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeData(w, http.StatusOK, authResponse{Token: token, User: newUserView(user)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.GetUser(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, newUserView(user))
}

func (s *Server) handleLinkBroker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientCode   string `json:"client_code"`
		Password     string `json:"password"`
		TOTP         string `json:"totp"`
		RequestToken string `json:"request_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	session, err := s.auth.LinkBroker(r.Context(), userID(r), broker.LoginRequest{
		ClientCode:   req.ClientCode,
		Password:     req.Password,
		TOTP:         req.TOTP,
		RequestToken: req.RequestToken,
	})
	s.recordAudit(r, security.AuditEvent{
		EventType: security.AuditBrokerLink,
		UserID:    userID(r),
		Action:    "link",
		Details:   map[string]interface{}{"client_code": security.MaskCredential(req.ClientCode)},
	}, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeData(w, http.StatusOK, newBrokerView(session))
}

func (s *Server) handleUnlinkBroker(w http.ResponseWriter, r *http.Request) {
	err := s.auth.UnlinkBroker(r.Context(), userID(r))
	s.recordAudit(r, security.AuditEvent{EventType: security.AuditBrokerLink, UserID: userID(r), Action: "unlink"}, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
