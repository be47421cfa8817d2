package mocks

import (
	"context"

	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/domain/session"
	"github.com/stretchr/testify/mock"
)

// StateRepository is a mock for session.Repository.
type StateRepository struct {
	mock.Mock
}

func (m *StateRepository) Load(ctx context.Context, key string) (*session.State, error) {
	args := m.Called(ctx, key)
	if st, ok := args.Get(0).(*session.State); ok {
		return st, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StateRepository) Save(ctx context.Context, key string, st *session.State) error {
	args := m.Called(ctx, key, st)
	return args.Error(0)
}

func (m *StateRepository) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// ProductRepository is a mock for catalog.Repository.
type ProductRepository struct {
	mock.Mock
}

func (m *ProductRepository) Create(ctx context.Context, p *catalog.Product) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *ProductRepository) Get(ctx context.Context, id int64) (*catalog.Product, error) {
	args := m.Called(ctx, id)
	if p, ok := args.Get(0).(*catalog.Product); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProductRepository) ListChildren(ctx context.Context, parentID int64, limit, offset int) ([]catalog.Product, int, error) {
	args := m.Called(ctx, parentID, limit, offset)
	if list, ok := args.Get(0).([]catalog.Product); ok {
		return list, args.Int(1), args.Error(2)
	}
	return nil, args.Int(1), args.Error(2)
}

func (m *ProductRepository) Search(ctx context.Context, query string, limit, offset int) ([]catalog.Product, int, error) {
	args := m.Called(ctx, query, limit, offset)
	if list, ok := args.Get(0).([]catalog.Product); ok {
		return list, args.Int(1), args.Error(2)
	}
	return nil, args.Int(1), args.Error(2)
}

func (m *ProductRepository) Update(ctx context.Context, p *catalog.Product) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

// APIKeyRepository is a mock for the API key store used by auth.
type APIKeyRepository struct {
	mock.Mock
}

func (m *APIKeyRepository) Create(ctx context.Context, keyHash, userID, description string) error {
	args := m.Called(ctx, keyHash, userID, description)
	return args.Error(0)
}

func (m *APIKeyRepository) Resolve(ctx context.Context, keyHash string) (string, error) {
	args := m.Called(ctx, keyHash)
	return args.String(0), args.Error(1)
}
