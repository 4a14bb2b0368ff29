package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdempotencyHeader names the client supplied replay key.
const IdempotencyHeader = "Idempotency-Key"

const maxIdempotencyKey = 128

// IdempotencyRecord stores the first response produced for a key.
type IdempotencyRecord struct {
	Key       string `gorm:"primaryKey;size:192"`
	Caller    string `gorm:"size:42;index"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// OpenIdempotencyStore opens the response cache. postgres:// DSNs use
// Postgres; anything else is treated as a SQLite path with an optional
// sqlite:// prefix.
func OpenIdempotencyStore(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("idempotency dsn required")
	}
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open idempotency store: %w", err)
	}
	if err := db.AutoMigrate(&IdempotencyRecord{}); err != nil {
		return nil, fmt.Errorf("migrate idempotency store: %w", err)
	}
	return db, nil
}

// Idempotency replays the stored response for a repeated key so a retried
// purchase is never applied twice. Keys are scoped to the authenticated
// caller. Server errors are not cached.
type Idempotency struct {
	db       *gorm.DB
	ttl      time.Duration
	logger   *slog.Logger
	mu       sync.Mutex
	inflight map[string]struct{}
	now      func() time.Time
}

func NewIdempotency(db *gorm.DB, ttl time.Duration, logger *slog.Logger) *Idempotency {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Idempotency{db: db, ttl: ttl, logger: logger, inflight: make(map[string]struct{}), now: time.Now}
}

func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKey {
			writeError(w, http.StatusBadRequest, "idempotency key too long")
			return
		}
		caller, scoped := scopeKey(r, key)
		if !i.acquire(scoped) {
			writeError(w, http.StatusConflict, "request with this idempotency key is in progress")
			return
		}
		defer i.release(scoped)

		var record IdempotencyRecord
		err := i.db.First(&record, "key = ?", scoped).Error
		switch {
		case err == nil && i.now().Sub(record.CreatedAt) < i.ttl:
			if record.Method != r.Method || record.Path != r.URL.Path {
				writeError(w, http.StatusUnprocessableEntity, "idempotency key reused for a different request")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(record.Status)
			_, _ = w.Write([]byte(record.Response))
			return
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			i.logger.Error("idempotency lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		recorder := &bodyRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		if recorder.status >= http.StatusInternalServerError {
			return
		}
		payload := IdempotencyRecord{
			Key:       scoped,
			Caller:    caller,
			RequestID: RequestIDFromContext(r.Context()),
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    recorder.status,
			Response:  recorder.body.String(),
			CreatedAt: i.now(),
		}
		if err := i.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&payload).Error; err != nil {
			i.logger.Warn("idempotency store failed", "error", err)
		}
	})
}

// scopeKey prefixes key with the caller address set by Authenticator.
// Unauthenticated requests share the bare key space.
func scopeKey(r *http.Request, key string) (string, string) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		return "", key
	}
	hex := caller.Hex()
	return hex, hex + "/" + key
}

func (i *Idempotency) acquire(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, busy := i.inflight[key]; busy {
		return false
	}
	i.inflight[key] = struct{}{}
	return true
}

func (i *Idempotency) release(key string) {
	i.mu.Lock()
	delete(i.inflight, key)
	i.mu.Unlock()
}

type bodyRecorder struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (b *bodyRecorder) WriteHeader(status int) {
	b.status = status
	b.ResponseWriter.WriteHeader(status)
}

func (b *bodyRecorder) Write(p []byte) (int, error) {
	b.body.Write(p)
	return b.ResponseWriter.Write(p)
}
