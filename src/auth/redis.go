package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisDirectory stores accounts as JSON records in one Redis hash keyed by
// username.
type RedisDirectory struct {
	client *redis.Client
	key    string
	cost   int
}

// NewRedisDirectory stores accounts under "<prefix>users".
func NewRedisDirectory(client *redis.Client, prefix string, cost int) *RedisDirectory {
	return &RedisDirectory{client: client, key: prefix + "users", cost: cost}
}

func (d *RedisDirectory) Register(ctx context.Context, username, password string) (User, error) {
	username, err := normalize(username, password)
	if err != nil {
		return User{}, err
	}
	hash, err := hashPassword(password, d.cost)
	if err != nil {
		return User{}, err
	}
	u := User{ID: uuid.NewString(), Username: username, PasswordHash: hash, CreatedAt: time.Now().UTC()}
	record, err := json.Marshal(u)
	if err != nil {
		return User{}, err
	}

	created, err := d.client.HSetNX(ctx, d.key, username, record).Result()
	if err != nil {
		return User{}, fmt.Errorf("store user %s: %w", username, err)
	}
	if !created {
		return User{}, ErrUsernameTaken
	}
	return u, nil
}

func (d *RedisDirectory) Authenticate(ctx context.Context, username, password string) (User, error) {
	username, err := normalize(username, password)
	if err != nil {
		return User{}, err
	}
	record, err := d.client.HGet(ctx, d.key, username).Bytes()
	if errors.Is(err, redis.Nil) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, fmt.Errorf("load user %s: %w", username, err)
	}

	var u User
	if err := json.Unmarshal(record, &u); err != nil {
		return User{}, fmt.Errorf("decode user %s: %w", username, err)
	}
	if err := checkPassword(u.PasswordHash, password); err != nil {
		return User{}, err
	}
	return u, nil
}

// Count returns the number of stored accounts.
func (d *RedisDirectory) Count(ctx context.Context) (int64, error) {
	return d.client.HLen(ctx, d.key).Result()
}
