package rates

import (
	"context"
	"errors"
	"time"
)

// Service resolves effective call rates and billing settings.
//
// Contract:
//   - Pure lookups; no telephony or money mutation here.
//   - Rate changes never apply retroactively: callers snapshot the rate
//     at activation and the commission at settlement.
type Service struct {
	repo  Repository
	clock func() time.Time
}

// Repository abstracts rate persistence.
// Implementation can be Postgres, cached, etc.
type Repository interface {
	FindCallRate(ctx context.Context, kind CallKind, at time.Time) (CallRate, bool, error)
	GetSettings(ctx context.Context) (Settings, error)
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrRateNotFound = errors.New("rate not found")
	ErrInvalidKind  = errors.New("invalid call kind")
	ErrNoSettings   = errors.New("billing settings not configured")
)

// CallRate returns the effective rate row for a call kind.
func (s *Service) CallRate(ctx context.Context, kind CallKind) (CallRate, error) {
	if !kind.Valid() {
		return CallRate{}, ErrInvalidKind
	}
	r, ok, err := s.repo.FindCallRate(ctx, kind, s.clock().UTC())
	if err != nil {
		return CallRate{}, err
	}
	if !ok {
		return CallRate{}, ErrRateNotFound
	}
	return r, nil
}

// IsKindEnabled reports whether calls of the given kind are currently offered.
// A missing rate row counts as disabled rather than an error, so a kind can
// be turned off by expiring its rate.
func (s *Service) IsKindEnabled(ctx context.Context, kind CallKind) (bool, error) {
	if !kind.Valid() {
		return false, ErrInvalidKind
	}
	r, ok, err := s.repo.FindCallRate(ctx, kind, s.clock().UTC())
	if err != nil {
		return false, err
	}
	return ok && r.Enabled, nil
}

// BillingSettings returns the commission and conversion parameters in
// effect right now.
func (s *Service) BillingSettings(ctx context.Context) (Settings, error) {
	set, err := s.repo.GetSettings(ctx)
	if err != nil {
		return Settings{}, err
	}
	if set.CoinToCurrencyRate <= 0 || set.CommissionPercent < 0 || set.CommissionPercent > 100 {
		return Settings{}, ErrNoSettings
	}
	return set, nil
}
