package docstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
)

// Policy bounds every backend call. The remote store has rate limits and no
// timeouts of its own, so every call gets one.
type Policy struct {
	// Timeout is applied to each individual call (and each retry).
	Timeout time.Duration

	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialWait is the first backoff; it doubles up to MaxWait.
	InitialWait time.Duration
	MaxWait     time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:     15 * time.Second,
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
	}
}

// WithPolicy wraps s so that each call runs under p.
//
// Timeouts surface as ErrTimeout wrapped in a *StoreError. Retryable
// failures (see IsRetryable) are retried with exponential backoff; the last
// error is returned once attempts are exhausted.
//
// If logger is nil, a default logger writing to stderr is used.
func WithPolicy(s Store, p Policy, logger *log.Logger) Store {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[docstore] ", log.LstdFlags)
	}
	return &policyStore{next: s, policy: p, logger: logger}
}

type policyStore struct {
	next   Store
	policy Policy
	logger *log.Logger
}

func (p *policyStore) CreateOrGetFolder(ctx context.Context, name string, parent FolderRef) (FolderRef, error) {
	return retry(ctx, p, OpCreateFolder, parent, name, func(ctx context.Context) (FolderRef, error) {
		return p.next.CreateOrGetFolder(ctx, name, parent)
	})
}

func (p *policyStore) FindFolder(ctx context.Context, name string, parent FolderRef) (FolderRef, error) {
	return retry(ctx, p, OpFindFolder, parent, name, func(ctx context.Context) (FolderRef, error) {
		return p.next.FindFolder(ctx, name, parent)
	})
}

func (p *policyStore) ReadFile(ctx context.Context, name string, folder FolderRef) ([]byte, error) {
	return retry(ctx, p, OpRead, folder, name, func(ctx context.Context) ([]byte, error) {
		return p.next.ReadFile(ctx, name, folder)
	})
}

func (p *policyStore) WriteFile(ctx context.Context, name string, folder FolderRef, data []byte) error {
	_, err := retry(ctx, p, OpWrite, folder, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.next.WriteFile(ctx, name, folder, data)
	})
	return err
}

func (p *policyStore) List(ctx context.Context, folder FolderRef) ([]Entry, error) {
	return retry(ctx, p, OpList, folder, "", func(ctx context.Context) ([]Entry, error) {
		return p.next.List(ctx, folder)
	})
}

func (p *policyStore) Close() error {
	return Close(p.next)
}

// retry runs call with the per-call timeout, retrying retryable failures
// with exponential backoff.
func retry[T any](ctx context.Context, p *policyStore, op Op, folder FolderRef, name string, call func(context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	wait := p.policy.InitialWait

	for attempt := 1; attempt <= p.policy.MaxAttempts; attempt++ {
		result, err = runOnce(ctx, p.policy.Timeout, op, folder, name, call)
		if err == nil {
			if attempt > 1 {
				p.logger.Printf("%s %s succeeded on attempt %d/%d", op, name, attempt, p.policy.MaxAttempts)
			}
			return result, nil
		}
		if !IsRetryable(err) || ctx.Err() != nil {
			return result, err
		}
		if attempt == p.policy.MaxAttempts {
			p.logger.Printf("WARNING: %s %s failed after %d attempts: %v", op, name, attempt, err)
			return result, err
		}

		p.logger.Printf("%s %s failed (attempt %d/%d), retrying in %v: %v",
			op, name, attempt, p.policy.MaxAttempts, wait, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, Fail(op, folder, name, ctx.Err())
		case <-timer.C:
		}

		wait *= 2
		if p.policy.MaxWait > 0 && wait > p.policy.MaxWait {
			wait = p.policy.MaxWait
		}
	}

	return result, fmt.Errorf("unexpected retry loop exit: %w", err)
}

func runOnce[T any](ctx context.Context, timeout time.Duration, op Op, folder FolderRef, name string, call func(context.Context) (T, error)) (T, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := call(callCtx)
	if err != nil {
		if IsNotFound(err) || errors.Is(err, ErrInvalidName) {
			return result, err
		}
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return result, Fail(op, folder, name, fmt.Errorf("after %v: %w", timeout, context.DeadlineExceeded))
		}
		return result, Fail(op, folder, name, err)
	}
	return result, nil
}
