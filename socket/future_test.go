package socket

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestFutureWriteOnce(t *testing.T) {
	f := newFuture[[]byte]()

	if !f.resolve([]byte("first")) {
		t.Fatal("expect first completion to win")
	}
	if f.reject(ErrDestroyed) || f.resolve([]byte("second")) {
		t.Fatal("expect later completions to be ignored")
	}

	v, err := f.Result()
	if err != nil || string(v) != "first" {
		t.Fatalf("unexpected result %q, %v", v, err)
	}
}

func TestFutureWaitContext(t *testing.T) {
	f := newFuture[[]byte]()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect deadline exceeded, got %v", err)
	}

	// Giving up the wait leaves the future usable.
	f.reject(ErrJobTimeout)
	select {
	case <-f.Done():
	default:
		t.Fatal("expect future to be done")
	}
	if _, err := f.Result(); !errors.Is(err, ErrJobTimeout) {
		t.Fatalf("expect ErrJobTimeout, got %v", err)
	}
}
