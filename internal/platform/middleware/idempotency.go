package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

const (
	IdempotencyKeyHeader      = "Idempotency-Key"
	IdempotencyReplayedHeader = "X-Idempotency-Replayed"

	DefaultIdempotencyTTL = 24 * time.Hour
	// inFlightTTL bounds how long a crashed request can hold a key.
	inFlightTTL = 30 * time.Second
)

// IdempotencyRecord is a cached response. A record with Pending set marks a
// request that is still executing.
type IdempotencyRecord struct {
	Pending    bool        `json:"pending,omitempty"`
	Method     string      `json:"method"`
	Path       string      `json:"path"`
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
}

// IdempotencyStore persists responses by key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	// Reserve marks key as in flight. It returns false if the key exists.
	Reserve(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, rec *IdempotencyRecord) error
	Release(ctx context.Context, key string) error
}

// RedisIdempotencyStore keeps records in Redis as JSON with a TTL.
type RedisIdempotencyStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client redis.Cmdable, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotencyStore{client: client, prefix: "hms:idempotency:", ttl: ttl}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	var rec IdempotencyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, nil
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string) (bool, error) {
	data, _ := json.Marshal(IdempotencyRecord{Pending: true})
	ok, err := s.client.SetNX(ctx, s.prefix+key, data, inFlightTTL).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, rec *IdempotencyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set idempotency record: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

type memoryEntry struct {
	rec       *IdempotencyRecord
	expiresAt time.Time
}

// MemoryIdempotencyStore is an in-process store for development and tests.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &MemoryIdempotencyStore{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

// lookup must be called with mu held. Expired entries are dropped.
func (s *MemoryIdempotencyStore) lookup(key string) *IdempotencyRecord {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e.rec
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (*IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.lookup(key)
	if rec == nil {
		return nil, nil
	}
	cp := *rec
	cp.Body = append([]byte(nil), rec.Body...)
	return &cp, nil
}

func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookup(key) != nil {
		return false, nil
	}
	s.entries[key] = memoryEntry{rec: &IdempotencyRecord{Pending: true}, expiresAt: s.now().Add(inFlightTTL)}
	return true, nil
}

func (s *MemoryIdempotencyStore) Set(_ context.Context, key string, rec *IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.Body = append([]byte(nil), rec.Body...)
	s.entries[key] = memoryEntry{rec: &cp, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Idempotency replays the stored response when a write request repeats an
// Idempotency-Key. Keys are scoped to the actor. Only responses of handlers
// that returned nil with a status below 500 are stored. When the store is
// unreachable the request proceeds without replay protection.
func Idempotency(store IdempotencyStore, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodPost && req.Method != http.MethodPut && req.Method != http.MethodPatch {
				return next(c)
			}
			key := req.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				return next(c)
			}
			if actor, ok := auth.ActorFromContext(req.Context()); ok {
				key = actor.ID.String() + ":" + key
			}
			ctx := req.Context()
			path := req.URL.Path

			cached, err := store.Get(ctx, key)
			if err != nil {
				logger.Warn().Err(err).Msg("idempotency store unavailable")
				return next(c)
			}
			if cached != nil {
				return replay(c, cached, req.Method, path)
			}

			reserved, err := store.Reserve(ctx, key)
			if err != nil {
				logger.Warn().Err(err).Msg("idempotency store unavailable")
				return next(c)
			}
			if !reserved {
				return echo.NewHTTPError(http.StatusConflict, "a request with this Idempotency-Key is in progress")
			}

			resp := c.Response()
			orig := resp.Writer
			rec := &responseRecorder{ResponseWriter: orig, header: make(http.Header), status: http.StatusOK}
			resp.Writer = rec

			err = next(c)
			resp.Writer = orig
			if err != nil || rec.status >= http.StatusInternalServerError {
				if relErr := store.Release(ctx, key); relErr != nil {
					logger.Warn().Err(relErr).Msg("release idempotency key")
				}
				if err != nil {
					return err
				}
			} else if setErr := store.Set(ctx, key, &IdempotencyRecord{
				Method:     req.Method,
				Path:       path,
				StatusCode: rec.status,
				Headers:    rec.header.Clone(),
				Body:       rec.body.Bytes(),
			}); setErr != nil {
				logger.Warn().Err(setErr).Msg("store idempotency record")
			}

			for k, vals := range rec.header {
				orig.Header()[k] = vals
			}
			orig.WriteHeader(rec.status)
			_, err = orig.Write(rec.body.Bytes())
			return err
		}
	}
}

func replay(c echo.Context, rec *IdempotencyRecord, method, path string) error {
	if rec.Pending {
		return echo.NewHTTPError(http.StatusConflict, "a request with this Idempotency-Key is in progress")
	}
	if rec.Method != method || rec.Path != path {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "Idempotency-Key was already used for a different request")
	}
	h := c.Response().Header()
	for k, vals := range rec.Headers {
		h[k] = vals
	}
	h.Set(IdempotencyReplayedHeader, "true")
	c.Response().WriteHeader(rec.StatusCode)
	_, err := c.Response().Write(rec.Body)
	return err
}

// responseRecorder buffers a handler's response so it can be stored.
type responseRecorder struct {
	http.ResponseWriter
	header http.Header
	body   bytes.Buffer
	status int
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(code int) { r.status = code }

func (r *responseRecorder) Write(b []byte) (int, error) { return r.body.Write(b) }
