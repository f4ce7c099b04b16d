package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/andinasoft/dte/internal/config"
)

const (
	keyEmitCompany = "dte:emit:company:%s"
	keyCancelLock  = "dte:cancel:lock:%s"
)

// EmitLimiter caps how fast any one company can burn folios and
// serializes concurrent cancellations of the same document.
type EmitLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	emitRate  float64
	emitBurst int
	lockTTL   time.Duration
}

func NewEmitLimiter(cfg config.Config) (*EmitLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.EmitRate <= 0 || limitCfg.EmitBurst <= 0 {
		return nil, errors.New("emit rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &EmitLimiter{
		enabled:   true,
		bucket:    NewTokenBucket(client),
		locker:    NewLocker(client),
		emitRate:  limitCfg.EmitRate,
		emitBurst: limitCfg.EmitBurst,
		lockTTL:   time.Duration(limitCfg.CancelLockTTLSecs) * time.Second,
	}, nil
}

func (l *EmitLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *EmitLimiter) AllowCompany(ctx context.Context, companyID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyEmitCompany, strings.TrimSpace(companyID)), l.emitRate, l.emitBurst)
}

func (l *EmitLimiter) TryLockDocument(ctx context.Context, documentID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keyCancelLock, strings.TrimSpace(documentID)), l.lockTTL)
}

func (l *EmitLimiter) ReleaseDocument(ctx context.Context, documentID, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keyCancelLock, strings.TrimSpace(documentID)), token)
}
