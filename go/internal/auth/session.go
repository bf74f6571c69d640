package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	SessionCookie     = "PHPSESSID"
	sessionKeyPrefix  = "PHPSESSID:"
	DefaultSessionTTL = 30 * time.Minute
)

var (
	sessionUserID = regexp.MustCompile(`s:\d+:"user_id";i:(\d+);`)
	sessionRole   = regexp.MustCompile(`s:\d+:"role";s:\d+:"([^"]+)";`)
)

// SessionStore reads serialized sessions shared with the storefront.
type SessionStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Touch(ctx context.Context, key string, ttl time.Duration) error
}

// RedisSessionStore keeps sessions in Redis under PHPSESSID:<id>.
type RedisSessionStore struct {
	client redis.Cmdable
}

func NewRedisSessionStore(client redis.Cmdable) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get session: %w", err)
	}
	return val, true, nil
}

func (s *RedisSessionStore) Touch(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

// SessionResolver authenticates a request from the storefront session cookie.
type SessionResolver struct {
	store   SessionStore
	ttl     time.Duration
	timeout time.Duration
}

func NewSessionResolver(store SessionStore) *SessionResolver {
	return &SessionResolver{store: store, ttl: DefaultSessionTTL, timeout: 3 * time.Second}
}

func (s *SessionResolver) Resolve(r *http.Request) (Principal, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return Principal{}, ErrUnauthenticated
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	key := sessionKeyPrefix + cookie.Value
	blob, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return Principal{}, err
	}
	if !ok {
		return Principal{}, ErrUnauthenticated
	}

	p, err := ParseSession(blob)
	if err != nil {
		return Principal{}, err
	}

	if err := s.store.Touch(ctx, key, s.ttl); err != nil {
		log.Warn().Err(err).Int64("user_id", p.UserID).Msg("failed to refresh session ttl")
	}
	return p, nil
}

// ParseSession extracts the principal from a PHP-serialized session blob.
func ParseSession(blob string) (Principal, error) {
	m := sessionUserID.FindStringSubmatch(blob)
	if m == nil {
		return Principal{}, ErrUnauthenticated
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, ErrUnauthenticated
	}
	rm := sessionRole.FindStringSubmatch(blob)
	if rm == nil {
		return Principal{}, ErrUnauthenticated
	}
	return Principal{UserID: id, Role: normalizeRole(rm[1])}, nil
}
