// Package idempotency replays the stored response of a write request that
// is retried with the same Idempotency-Key.
package idempotency

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/event-registrations/internal/adapters/redis"
)

// ErrInFlight is returned by Begin while another request with the same key
// is still running.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

const lockTTL = 30 * time.Second

// Backend is the storage behind Idempotency; *redisadapter.Idempotency
// implements it.
type Backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Idempotency struct {
	backend Backend
	ttl     time.Duration
}

func NewIdempotency(backend Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{backend: backend, ttl: ttl}
}

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.backend.Get(ctx, key)
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, ContentType: stored.ContentType, Result: stored.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	return i.backend.Set(ctx, key, redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Result:      resp.Result,
	}, i.ttl)
}

// Begin returns the stored response for key if there is one. Otherwise it
// takes the in-flight lock; the caller must call End once it has answered.
func (i *Idempotency) Begin(ctx context.Context, key string) (*Response, error) {
	if resp, err := i.Get(ctx, key); err != nil || resp != nil {
		return resp, err
	}
	ok, err := i.backend.Lock(ctx, key, lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInFlight
	}
	return nil, nil
}

// End stores resp (when non-nil) and releases the lock taken by Begin.
func (i *Idempotency) End(ctx context.Context, key string, resp *Response) error {
	var err error
	if resp != nil {
		err = i.Set(ctx, key, *resp)
	}
	return errors.CombineErrors(err, i.backend.Unlock(ctx, key))
}
