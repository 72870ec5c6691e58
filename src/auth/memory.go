package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDirectory keeps accounts in process memory.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
	cost  int
}

// NewMemoryDirectory creates an empty directory hashing with the given bcrypt
// cost; zero selects DefaultCost.
func NewMemoryDirectory(cost int) *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]User), cost: cost}
}

func (d *MemoryDirectory) Register(_ context.Context, username, password string) (User, error) {
	username, err := normalize(username, password)
	if err != nil {
		return User{}, err
	}
	hash, err := hashPassword(password, d.cost)
	if err != nil {
		return User{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[username]; ok {
		return User{}, ErrUsernameTaken
	}
	u := User{ID: uuid.NewString(), Username: username, PasswordHash: hash, CreatedAt: time.Now()}
	d.users[username] = u
	return u, nil
}

func (d *MemoryDirectory) Authenticate(_ context.Context, username, password string) (User, error) {
	username, err := normalize(username, password)
	if err != nil {
		return User{}, err
	}
	d.mu.RLock()
	u, ok := d.users[username]
	d.mu.RUnlock()
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	if err := checkPassword(u.PasswordHash, password); err != nil {
		return User{}, err
	}
	return u, nil
}
