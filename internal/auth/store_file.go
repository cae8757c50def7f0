package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vulnscope-systems/vulnscope-core/internal/crypto"
)

// FileRepository persists the full username→credential map as a single
// Confidential-tier encryption envelope. The file is read once at
// startup and rewritten on every mutation.
type FileRepository struct {
	mu     sync.Mutex
	path   string
	crypto *crypto.Manager
	mem    *InMemoryRepository
}

// NewFileRepository loads the credential store from path, creating an
// empty store when the file does not exist yet.
func NewFileRepository(path string, cm *crypto.Manager) (*FileRepository, error) {
	r := &FileRepository{
		path:   path,
		crypto: cm,
		mem:    NewInMemoryRepository(),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRepository) load() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read credential store: %w", err)
	}

	env, err := crypto.ParseEnvelope(raw)
	if err != nil {
		return fmt.Errorf("credential store is not a valid envelope: %w", err)
	}
	plaintext, err := r.crypto.Decrypt(env)
	if err != nil {
		return fmt.Errorf("failed to decrypt credential store: %w", err)
	}

	var creds map[string]*Credential
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return fmt.Errorf("failed to parse credential store: %w", err)
	}
	ctx := context.Background()
	for _, cred := range creds {
		if err := r.mem.Create(ctx, cred); err != nil {
			return err
		}
	}
	return nil
}

// persist writes the whole store atomically: encrypt, write to a temp
// file, rename into place.
func (r *FileRepository) persist(ctx context.Context) error {
	creds, err := r.mem.List(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]*Credential, len(creds))
	for _, c := range creds {
		byName[c.Username] = c
	}

	plaintext, err := json.Marshal(byName)
	if err != nil {
		return fmt.Errorf("failed to serialize credential store: %w", err)
	}
	env, err := r.crypto.Encrypt(plaintext, crypto.ClassificationConfidential)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential store: %w", err)
	}
	raw, err := env.Marshal()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write credential store: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("failed to replace credential store: %w", err)
	}
	return nil
}

func (r *FileRepository) Create(ctx context.Context, cred *Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.mem.Create(ctx, cred); err != nil {
		return err
	}
	return r.persist(ctx)
}

func (r *FileRepository) GetByUsername(ctx context.Context, username string) (*Credential, error) {
	return r.mem.GetByUsername(ctx, username)
}

func (r *FileRepository) GetByID(ctx context.Context, id string) (*Credential, error) {
	return r.mem.GetByID(ctx, id)
}

func (r *FileRepository) Update(ctx context.Context, cred *Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.mem.Update(ctx, cred); err != nil {
		return err
	}
	return r.persist(ctx)
}

func (r *FileRepository) List(ctx context.Context) ([]*Credential, error) {
	return r.mem.List(ctx)
}

func (r *FileRepository) Delete(ctx context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.mem.Delete(ctx, username); err != nil {
		return err
	}
	return r.persist(ctx)
}
