package client

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrMapsNotFoundToSentinel(t *testing.T) {
	t.Parallel()
	err := wrapErr(status.Error(codes.NotFound, "machine 7 not registered"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected errors.Is(err, ErrNotFound), got %v", err)
	}
}

func TestWrapErrMapsUnavailableToSentinel(t *testing.T) {
	t.Parallel()
	err := wrapErr(status.Error(codes.Unavailable, "shard owner unreachable"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected errors.Is(err, ErrUnavailable), got %v", err)
	}
}

func TestWrapErrPassesThroughNil(t *testing.T) {
	t.Parallel()
	if wrapErr(nil) != nil {
		t.Fatal("expected nil in, nil out")
	}
}
