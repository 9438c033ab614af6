package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrStorageUnavailable = errors.New("usage storage unavailable")
	ErrInvalidRecord      = errors.New("invalid usage record")
)

// Recorder appends one record per completed call.
type Recorder struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewRecorder(store Store, log zerolog.Logger) *Recorder {
	return &Recorder{store: store, log: log, now: time.Now}
}

// Record validates and appends rec, filling ID and CreatedAt on success.
// Any store failure is reported as ErrStorageUnavailable.
func (r *Recorder) Record(ctx context.Context, rec *Record) error {
	if rec.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidRecord)
	}
	if rec.TokensUsed < 0 || rec.Cost < 0 {
		return fmt.Errorf("%w: tokens and cost must not be negative", ErrInvalidRecord)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}

	if err := r.store.Append(ctx, rec); err != nil {
		r.log.Error().Err(err).
			Str("tenant_id", rec.TenantID).
			Str("model", rec.Model).
			Int64("tokens", rec.TokensUsed).
			Msg("failed to record usage")
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}
