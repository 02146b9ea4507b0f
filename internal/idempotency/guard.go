// Package idempotency replays the stored response of a request whose
// Idempotency-Key was seen before. A key is first reserved with a pending
// marker, so a concurrent retry of an in-flight voucher post is refused
// instead of posting twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const keyNamespace = "ledger:idempotency"

// DefaultTTL is how long a completed response is replayed.
const DefaultTTL = 24 * time.Hour

// ErrMiss is returned by KV.Get for absent or expired keys.
var ErrMiss = errors.New("idempotency: key not found")

// KV is the storage surface the guard needs. Values expire after ttl.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Record is what is kept under a key. Pending records mark a request that
// has not finished yet.
type Record struct {
	Pending     bool   `json:"pending,omitempty"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// State is the outcome of Begin.
type State int

const (
	// Started means the caller owns the key and must call Finish or Abort.
	Started State = iota
	// Replay means a completed response is stored for the same request.
	Replay
	// InFlight means another request holding the key has not finished.
	InFlight
	// Mismatch means the key was used with a different request body.
	Mismatch
)

type Guard struct {
	kv  KV
	ttl time.Duration
}

func NewGuard(kv KV, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{kv: kv, ttl: ttl}
}

// Key scopes a client-supplied key, e.g. by tenant and route.
func (g *Guard) Key(scope ...string) string {
	return keyNamespace + ":" + strings.Join(scope, ":")
}

// Hash fingerprints a request body.
func Hash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Begin reserves key for a request with the given body hash, or reports what
// is already stored under it.
func (g *Guard) Begin(ctx context.Context, key, requestHash string) (Record, State, error) {
	marker, err := json.Marshal(Record{Pending: true, RequestHash: requestHash})
	if err != nil {
		return Record{}, 0, err
	}
	// A key can expire between SetNX and Get; one retry covers that window.
	for range 2 {
		ok, err := g.kv.SetNX(ctx, key, string(marker), g.ttl)
		if err != nil {
			return Record{}, 0, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if ok {
			return Record{}, Started, nil
		}
		raw, err := g.kv.Get(ctx, key)
		if errors.Is(err, ErrMiss) {
			continue
		}
		if err != nil {
			return Record{}, 0, fmt.Errorf("read idempotency key: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return Record{}, 0, fmt.Errorf("decode idempotency record: %w", err)
		}
		switch {
		case rec.RequestHash != requestHash:
			return rec, Mismatch, nil
		case rec.Pending:
			return rec, InFlight, nil
		}
		return rec, Replay, nil
	}
	return Record{}, InFlight, nil
}

// Finish stores the response for replay.
func (g *Guard) Finish(ctx context.Context, key string, rec Record) error {
	rec.Pending = false
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := g.kv.Set(ctx, key, string(payload), g.ttl); err != nil {
		return fmt.Errorf("store idempotency record: %w", err)
	}
	return nil
}

// Abort frees key so the request can be retried.
func (g *Guard) Abort(ctx context.Context, key string) error {
	if err := g.kv.Del(ctx, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
