// Package otp holds pending registrations and their one-time codes in
// Redis, keyed by email, with an expiry so abandoned registrations age out.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/go-redis/redis/v8"
)

// PendingRegistration is the transient state between a register request and
// its OTP verification. Password is the bcrypt hash, never the plaintext.
type PendingRegistration struct {
	Email    string
	Username string
	Password string
	Code     string
}

// PendingStore abstracts the pending-registration storage for testing.
type PendingStore interface {
	Save(ctx context.Context, pending PendingRegistration, ttl time.Duration) error
	Get(ctx context.Context, email string) (*PendingRegistration, error)
	Delete(ctx context.Context, email string) error
}

// RedisStore is a PendingStore backed by a Redis hash per email.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed pending store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func pendingKey(email string) string {
	return "pending:" + email
}

// Save writes the pending registration and arms its expiry. A repeated
// register for the same email overwrites the previous entry.
func (s *RedisStore) Save(ctx context.Context, pending PendingRegistration, ttl time.Duration) error {
	key := pendingKey(pending.Email)
	data := map[string]interface{}{
		"otp":      pending.Code,
		"username": pending.Username,
		"password": pending.Password,
	}
	if err := s.client.HSet(ctx, key, data).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, ttl).Err()
}

// Get returns the pending registration for an email, or nil when none
// exists or it has expired.
func (s *RedisStore) Get(ctx context.Context, email string) (*PendingRegistration, error) {
	vals, err := s.client.HGetAll(ctx, pendingKey(email)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return &PendingRegistration{
		Email:    email,
		Username: vals["username"],
		Password: vals["password"],
		Code:     vals["otp"],
	}, nil
}

// Delete discards the pending registration and its code.
func (s *RedisStore) Delete(ctx context.Context, email string) error {
	return s.client.Del(ctx, pendingKey(email)).Err()
}

// GenerateCode returns a 6-digit numeric one-time code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+100000), nil
}
