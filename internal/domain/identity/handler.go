package identity

import (
	"context"
	"errors"
	"time"

	"github.com/habms/habms/internal/platform/auth"
	"github.com/habms/habms/internal/platform/dispatch"
	"github.com/habms/habms/internal/platform/session"
)

// Handler serves account actions on the line protocol.
type Handler struct {
	svc    *Service
	tokens *auth.TokenIssuer
}

// NewHandler creates a Handler. tokens may be nil, in which case login does
// not hand out a bearer token.
func NewHandler(svc *Service, tokens *auth.TokenIssuer) *Handler {
	return &Handler{svc: svc, tokens: tokens}
}

func (h *Handler) RegisterActions(d *dispatch.Dispatcher) {
	d.Handle(session.ActionLogin, h.Login)
	d.Handle(session.ActionLogout, h.Logout)
	d.Handle(session.ActionRegister, h.Register)
	d.Handle(session.ActionWhoAmI, h.WhoAmI)
	d.Handle(session.ActionUpdateAccount, h.UpdateAccount)
	d.Handle(session.ActionDeleteAccount, h.DeleteAccount)
}

type loginResponse struct {
	Username  string       `json:"username"`
	Role      session.Role `json:"role"`
	FullName  string       `json:"fullName"`
	Token     string       `json:"token,omitempty"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
}

func (h *Handler) Login(ctx context.Context, sess *session.Session, req *dispatch.Request) (interface{}, error) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := req.Bind(&in); err != nil {
		return nil, err
	}

	u, err := h.svc.Authenticate(ctx, in.Username, in.Password)
	if err != nil {
		return nil, mapError(err)
	}

	resp := loginResponse{Username: u.Username, Role: u.Role, FullName: u.FullName}
	if h.tokens != nil {
		token, exp, err := h.tokens.Issue(u.Username, u.Role)
		if err != nil {
			return nil, err
		}
		resp.Token = token
		resp.ExpiresAt = &exp
	}

	sess.Login(u.Username, u.Role)
	return resp, nil
}

func (h *Handler) Logout(_ context.Context, sess *session.Session, _ *dispatch.Request) (interface{}, error) {
	sess.Logout()
	return nil, nil
}

func (h *Handler) Register(ctx context.Context, _ *session.Session, req *dispatch.Request) (interface{}, error) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
		FullName string `json:"fullname"`
		IDCard   string `json:"idcard"`
		Phone    string `json:"phone"`
	}
	if err := req.Bind(&in); err != nil {
		return nil, err
	}

	u, err := h.svc.Register(ctx, Registration{
		Username: in.Username,
		Password: in.Password,
		FullName: in.FullName,
		IDCard:   in.IDCard,
		Phone:    in.Phone,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

func (h *Handler) WhoAmI(ctx context.Context, sess *session.Session, _ *dispatch.Request) (interface{}, error) {
	u, err := h.svc.Get(ctx, sess.Identity)
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

func (h *Handler) UpdateAccount(ctx context.Context, sess *session.Session, req *dispatch.Request) (interface{}, error) {
	var in struct {
		Password string `json:"password"`
		FullName string `json:"fullname"`
		Phone    string `json:"phone"`
	}
	if err := req.Bind(&in); err != nil {
		return nil, err
	}

	u, err := h.svc.UpdateAccount(ctx, sess.Identity, AccountUpdate{
		Password: in.Password,
		FullName: in.FullName,
		Phone:    in.Phone,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

// DeleteAccount removes the caller's account and ends the session.
func (h *Handler) DeleteAccount(ctx context.Context, sess *session.Session, _ *dispatch.Request) (interface{}, error) {
	if err := h.svc.DeleteAccount(ctx, sess.Identity); err != nil {
		return nil, mapError(err)
	}
	sess.Logout()
	return nil, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return dispatch.Wrap(dispatch.CodeAuthRequired, "login failed", err)
	case errors.Is(err, ErrUserNotFound):
		return dispatch.Wrap(dispatch.CodeNotFound, err.Error(), err)
	case errors.Is(err, ErrAdminNotDeletable):
		return dispatch.Wrap(dispatch.CodeForbidden, err.Error(), err)
	case errors.Is(err, ErrUsernameTaken),
		errors.Is(err, ErrInvalidUsername),
		errors.Is(err, ErrWeakPassword),
		errors.Is(err, ErrFullNameRequired):
		return dispatch.Wrap(dispatch.CodeValidation, err.Error(), err)
	}
	return err
}
