package indexdb

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt cost for new hashes.
var PasswordCost = bcrypt.DefaultCost

func hashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
}

func checkHash(hash []byte, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteIndex) getHash(ctx context.Context, name string) ([]byte, bool, error) {
	resp := make(chan accountResp, 1)
	if err := s.postWait(ctx, req{kind: reqAccountGet, account: accountRow{Name: name}, resp: resp}); err != nil {
		return nil, false, err
	}
	select {
	case r := <-resp:
		return r.hash, r.found, r.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// HasAccount reports whether name is registered.
func (s *SQLiteIndex) HasAccount(ctx context.Context, name string) (bool, error) {
	_, found, err := s.getHash(ctx, name)
	return found, err
}

// CheckPassword verifies password for name. Unknown names return false.
func (s *SQLiteIndex) CheckPassword(ctx context.Context, name, password string) (bool, error) {
	hash, found, err := s.getHash(ctx, name)
	if err != nil || !found {
		return false, err
	}
	return checkHash(hash, password)
}

// SetPassword creates the account or replaces its password.
func (s *SQLiteIndex) SetPassword(ctx context.Context, name, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	resp := make(chan accountResp, 1)
	if err := s.postWait(ctx, req{kind: reqAccountPut, account: accountRow{Name: name, Hash: hash, At: now()}, resp: resp}); err != nil {
		return err
	}
	select {
	case r := <-resp:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MemoryAccounts keeps accounts in process memory, for servers run without a
// database and for tests.
type MemoryAccounts struct {
	mu     sync.Mutex
	hashes map[string][]byte
}

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{hashes: map[string][]byte{}}
}

func (m *MemoryAccounts) HasAccount(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.hashes[name]
	return ok, nil
}

func (m *MemoryAccounts) CheckPassword(_ context.Context, name, password string) (bool, error) {
	m.mu.Lock()
	hash, ok := m.hashes[name]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return checkHash(hash, password)
}

func (m *MemoryAccounts) SetPassword(_ context.Context, name, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.hashes[name] = hash
	m.mu.Unlock()
	return nil
}
