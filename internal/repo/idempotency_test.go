package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/postgate/internal/domain"
)

func TestGetIdempotency_BlankKey_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	rec, err := GetIdempotency(context.Background(), db, 1, "   ", time.Now().UTC())
	if rec != nil || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected (nil, ErrNotFound), got (%v, %v)", rec, err)
	}
}

func TestIdempotency_CreateGetExpire(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 4, 4, 8, 0, 0, 0, time.UTC)

	rec, err := CreateIdempotency(ctx, db, 1, "k1", 55, 201, now, time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.ID == "" || rec.PostID != 55 || !rec.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetIdempotency(ctx, db, 1, "k1", now.Add(time.Minute))
	if err != nil || got.PostID != 55 || got.Status != 201 {
		t.Fatalf("GetIdempotency = %+v, %v", got, err)
	}

	// keys are scoped per user
	if _, err := GetIdempotency(ctx, db, 2, "k1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other user: expected ErrNotFound, got %v", err)
	}
	// expired
	if _, err := GetIdempotency(ctx, db, 1, "k1", now.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired: expected ErrNotFound, got %v", err)
	}
}

func TestCreateIdempotency_Duplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := CreateIdempotency(ctx, db, 1, "dup", 1, 201, now, time.Hour); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, 1, "dup", 2, 201, now, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, 2, "dup", 3, 201, now, time.Hour); err != nil {
		t.Fatalf("same key for another user should succeed: %v", err)
	}
}

func TestCreateIdempotency_OtherErrorPropagates(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	_, err := CreateIdempotency(context.Background(), db, 1, "k", 1, 201, time.Now(), time.Hour)
	if err == nil || errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected raw error without table, got %v", err)
	}
}

func TestIsDuplicate(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("UNIQUE constraint failed: idempotency.user_id"), true},
		{errors.New(`ERROR: duplicate key value violates unique constraint "ux_user_key"`), true},
		{errors.New("constraint failed: UNIQUE constraint failed (2067)"), true},
		{errors.New("no such table"), false},
	}
	for _, c := range cases {
		if got := IsDuplicate(c.err); got != c.want {
			t.Fatalf("IsDuplicate(%v) = %v; want %v", c.err, got, c.want)
		}
	}
}

func TestReserveIdempotency_ClaimBindRelease(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 4, 4, 8, 0, 0, 0, time.UTC)

	rec, err := ReserveIdempotency(ctx, db, 1, "k", now, time.Hour)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if rec.PostID != 0 || rec.Status != 0 {
		t.Fatalf("a fresh claim carries no result: %+v", rec)
	}
	if _, err := ReserveIdempotency(ctx, db, 1, "k", now.Add(time.Minute), time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second claim: expected ErrDuplicate, got %v", err)
	}

	if err := BindIdempotency(ctx, db, rec.ID, 42, 201); err != nil {
		t.Fatalf("bind: %v", err)
	}
	got, err := GetIdempotency(ctx, db, 1, "k", now)
	if err != nil || got.PostID != 42 || got.Status != 201 {
		t.Fatalf("after bind = %+v, %v", got, err)
	}
	if err := BindIdempotency(ctx, db, "missing", 1, 201); !errors.Is(err, ErrNotFound) {
		t.Fatalf("bind unknown: expected ErrNotFound, got %v", err)
	}

	if err := ReleaseIdempotency(ctx, db, rec.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := ReserveIdempotency(ctx, db, 1, "k", now, time.Hour); err != nil {
		t.Fatalf("released key should be claimable again: %v", err)
	}
}

func TestReserveIdempotency_ExpiredClaimIsReplaced(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 4, 4, 8, 0, 0, 0, time.UTC)

	old, err := ReserveIdempotency(ctx, db, 1, "k", now, time.Hour)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	fresh, err := ReserveIdempotency(ctx, db, 1, "k", now.Add(time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("reserve after expiry: %v", err)
	}
	if fresh.ID == old.ID {
		t.Fatalf("expected a new record")
	}
	var n int64
	db.Model(&domain.Idempotency{}).Count(&n)
	if n != 1 {
		t.Fatalf("expired record should be gone, have %d rows", n)
	}
}
