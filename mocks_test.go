package auth_test

import (
	"context"
	"time"

	"github.com/goliatone/go-auth-bridge"
	"github.com/stretchr/testify/mock"
)

// MockUserStore implements auth.UserStore
type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) FindUser(ctx context.Context, identity string, opts ...auth.FindUserOption) (*auth.User, error) {
	args := m.Called(ctx, identity)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUserStore) CountSessions(ctx context.Context, user *auth.User) (int, error) {
	args := m.Called(ctx, user)
	return args.Int(0), args.Error(1)
}

func (m *MockUserStore) FindOneSession(ctx context.Context, user *auth.User) (*auth.Session, error) {
	args := m.Called(ctx, user)
	session, _ := args.Get(0).(*auth.Session)
	return session, args.Error(1)
}

func (m *MockUserStore) CreateUser(ctx context.Context, identity, credential string) (*auth.User, error) {
	args := m.Called(ctx, identity, credential)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUserStore) Login(ctx context.Context, identity, credential string, ttl time.Duration) (*auth.Session, error) {
	args := m.Called(ctx, identity, credential, ttl)
	session, _ := args.Get(0).(*auth.Session)
	return session, args.Error(1)
}

func (m *MockUserStore) DeleteSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

// MockActivitySink records every event it receives
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event auth.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
