package auth

import (
	"context"
	"testing"
)

func TestPostgresOTPRepositoryRejectsMalformedUserID(t *testing.T) {
	// The id is checked before the pool is touched.
	r := NewPostgresOTPRepository(nil)
	ctx := context.Background()

	if otps, err := r.ListOpen(ctx, "not-a-uuid", PurposeLogin); err == nil || otps != nil {
		t.Fatalf("ListOpen: expected parse error, got %v, %v", otps, err)
	}
	if n, err := r.ExpireOpen(ctx, "not-a-uuid", PurposeLogin); err == nil || n != 0 {
		t.Fatalf("ExpireOpen: expected parse error, got %d, %v", n, err)
	}
}
