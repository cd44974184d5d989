// Package ratelimit throttles submit_call traffic at the HTTP edge, ahead
// of the PCore dispatch loop. It exists so a single runaway VM process
// cannot starve the ready-task queue for everyone else sharing the engine
// pool; it has no say over dispatch ordering once a call is accepted.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Backend performs the atomic token bucket check. Implementations must be
// safe for concurrent use.
type Backend interface {
	CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (allowed bool, remaining int, err error)
}

// TierConfig holds rate limit configuration for a class of caller.
type TierConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// Limiter implements token bucket rate limiting over a pluggable Backend.
type Limiter struct {
	backend Backend
	dflt    TierConfig
}

// New creates a rate limiter backed by the given Backend.
func New(backend Backend, defaultTier TierConfig) *Limiter {
	return &Limiter{backend: backend, dflt: defaultTier}
}

// Result contains the result of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Allow checks if one submit_call is allowed for the given key.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN checks if N submit_calls are allowed in one shot.
func (l *Limiter) AllowN(ctx context.Context, key string, n int) (Result, error) {
	cfg := l.dflt

	allowed, remaining, err := l.backend.CheckRateLimit(ctx, key, cfg.BurstSize, cfg.RequestsPerSecond, n)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check: %w", err)
	}

	tokensNeeded := float64(cfg.BurstSize) - float64(remaining)
	refillSeconds := tokensNeeded / cfg.RequestsPerSecond
	resetAt := time.Now().Add(time.Duration(refillSeconds * float64(time.Second)))

	return Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// KeyForPid returns the rate limit key for a VM process submitting calls.
func KeyForPid(pid int) string {
	return fmt.Sprintf("pid:%d", pid)
}

// KeyForIP returns the rate limit key for an unidentified caller.
func KeyForIP(ip string) string {
	return "ip:" + ip
}
