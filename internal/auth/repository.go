package auth

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// Repository stores credential records. Implementations must be safe
// for concurrent use.
type Repository interface {
	Create(ctx context.Context, cred *Credential) error
	GetByUsername(ctx context.Context, username string) (*Credential, error)
	GetByID(ctx context.Context, id string) (*Credential, error)
	Update(ctx context.Context, cred *Credential) error
	List(ctx context.Context) ([]*Credential, error)
	Delete(ctx context.Context, username string) error
}

// InMemoryRepository keeps credentials in process memory. Used in tests
// and as the base for the encrypted file store.
type InMemoryRepository struct {
	mu     sync.RWMutex
	byName map[string]*Credential
	byID   map[string]*Credential
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byName: make(map[string]*Credential),
		byID:   make(map[string]*Credential),
	}
}

func (r *InMemoryRepository) Create(ctx context.Context, cred *Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[cred.Username]; exists {
		return ErrUserExists
	}
	c := cred.clone()
	r.byName[c.Username] = c
	r.byID[c.ID] = c
	return nil
}

func (r *InMemoryRepository) GetByUsername(ctx context.Context, username string) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, exists := r.byName[username]
	if !exists {
		return nil, ErrUserNotFound
	}
	return cred.clone(), nil
}

func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, exists := r.byID[id]
	if !exists {
		return nil, ErrUserNotFound
	}
	return cred.clone(), nil
}

func (r *InMemoryRepository) Update(ctx context.Context, cred *Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[cred.Username]; !exists {
		return ErrUserNotFound
	}
	c := cred.clone()
	r.byName[c.Username] = c
	r.byID[c.ID] = c
	return nil
}

func (r *InMemoryRepository) List(ctx context.Context) ([]*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	creds := make([]*Credential, 0, len(r.byName))
	for _, c := range r.byName {
		creds = append(creds, c.clone())
	}
	return creds, nil
}

func (r *InMemoryRepository) Delete(ctx context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, exists := r.byName[username]
	if !exists {
		return ErrUserNotFound
	}
	delete(r.byName, username)
	delete(r.byID, cred.ID)
	return nil
}
