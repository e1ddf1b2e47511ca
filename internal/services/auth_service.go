package services

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"storefront/internal/domain"
	"storefront/internal/repos"
)

type AuthService struct {
	Store repos.Store
}

func NewAuthService(store repos.Store) *AuthService { return &AuthService{Store: store} }

func (s *AuthService) Login(ctx context.Context, sid, email, password string) (*domain.User, error) {
	u, err := s.Store.Users().ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			return nil, ErrBadCreds
		}
		return nil, storeErr("find user", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Hash), []byte(password)) != nil {
		return nil, ErrBadCreds
	}
	if err := s.Store.Users().BindSession(ctx, sid, u.ID); err != nil {
		return nil, storeErr("bind session", err)
	}
	return u, nil
}

func (s *AuthService) Logout(ctx context.Context, sid string) error {
	return storeErr("unbind session", s.Store.Users().UnbindSession(ctx, sid))
}

// CurrentUser resolves the session cookie to a user; ErrNotFound-style misses return nil, nil.
func (s *AuthService) CurrentUser(ctx context.Context, sid string) (*domain.User, error) {
	u, err := s.Store.Users().SessionUser(ctx, sid)
	if errors.Is(err, repos.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("session user", err)
	}
	return u, nil
}
