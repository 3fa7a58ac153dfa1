package services

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/tbourn/postgate/internal/clock"
	"github.com/tbourn/postgate/internal/domain"
	"github.com/tbourn/postgate/internal/repo"
)

// IdempotencyService remembers which post a (user, Idempotency-Key) pair
// produced so a retried submission returns the same post instead of
// spending quota or publishing twice. PostService.SubmitOnce claims keys
// through it inside the submission transaction.
type IdempotencyService struct {
	DB    *gorm.DB
	Clock clock.Clock
	TTL   time.Duration
}

func (s *IdempotencyService) ttl() time.Duration {
	if s.TTL <= 0 {
		return 24 * time.Hour
	}
	return s.TTL
}

// Lookup returns the post remembered for key, if any and not expired. A
// claim whose submission has not finished yet is not a hit.
func (s *IdempotencyService) Lookup(ctx context.Context, userID int64, key string) (uint64, bool, error) {
	ctx, span := otel.Tracer("services/IdempotencyService").Start(ctx, "Lookup")
	defer span.End()

	rec, err := s.find(ctx, userID, key)
	if err != nil || rec == nil || rec.PostID == 0 {
		return 0, false, err
	}
	return rec.PostID, true, nil
}

// Exists adapts Lookup to the middleware's string-keyed signature.
func (s *IdempotencyService) Exists(ctx context.Context, userID, key string, _ time.Time) (bool, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return false, nil
	}
	_, found, err := s.Lookup(ctx, id, key)
	return found, err
}

func (s *IdempotencyService) find(ctx context.Context, userID int64, key string) (*domain.Idempotency, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, key, s.Clock.Now())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// reserve claims key for userID on db, normally the submission transaction.
// A live claim by an earlier request returns repo.ErrDuplicate.
func (s *IdempotencyService) reserve(ctx context.Context, db *gorm.DB, userID int64, key string) (*domain.Idempotency, error) {
	return repo.ReserveIdempotency(ctx, db, userID, key, s.Clock.Now(), s.ttl())
}

func (s *IdempotencyService) bind(ctx context.Context, db *gorm.DB, rec *domain.Idempotency, postID uint64) error {
	return repo.BindIdempotency(ctx, db, rec.ID, postID, http.StatusCreated)
}

func (s *IdempotencyService) release(ctx context.Context, rec *domain.Idempotency) {
	if err := repo.ReleaseIdempotency(ctx, s.DB, rec.ID); err != nil {
		log.Warn().Err(err).Int64("account_id", rec.UserID).Msg("release idempotency key")
	}
}
