package rates

import (
	"context"
	"testing"
	"time"
)

func TestCallRate_RespectsEffectiveWindow(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	to := now.Add(time.Hour)
	repo.Rate[CallKindAudio] = CallRate{
		ID:             "r1",
		Kind:           CallKindAudio,
		CoinsPerMinute: 60,
		Enabled:        true,
		EffectiveFrom:  now.Add(-time.Hour),
		EffectiveTo:    &to,
	}

	svc := NewService(repo)
	svc.clock = func() time.Time { return now }

	r, err := svc.CallRate(context.Background(), CallKindAudio)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if r.CoinsPerMinute != 60 {
		t.Fatalf("expected 60 coins/min, got %d", r.CoinsPerMinute)
	}

	// After the window closes the rate disappears.
	svc.clock = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := svc.CallRate(context.Background(), CallKindAudio); err != ErrRateNotFound {
		t.Fatalf("expected ErrRateNotFound, got %v", err)
	}
}

func TestCallRate_RejectsUnknownKind(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	if _, err := svc.CallRate(context.Background(), CallKind("fax")); err != ErrInvalidKind {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestIsKindEnabled_MissingRateMeansDisabled(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	on, err := svc.IsKindEnabled(context.Background(), CallKindVideo)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if on {
		t.Fatalf("expected video disabled without a rate row")
	}

	repo.Rate[CallKindVideo] = CallRate{Kind: CallKindVideo, CoinsPerMinute: 90, Enabled: false}
	on, err = svc.IsKindEnabled(context.Background(), CallKindVideo)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if on {
		t.Fatalf("expected video disabled when toggle is off")
	}
}

func TestBillingSettings_RejectsUnconfigured(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	if _, err := svc.BillingSettings(context.Background()); err != ErrNoSettings {
		t.Fatalf("expected ErrNoSettings, got %v", err)
	}

	repo.Settings = Settings{CommissionPercent: 50, CoinToCurrencyRate: 0.5, Currency: "USD"}
	set, err := svc.BillingSettings(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if set.CommissionPercent != 50 || set.CoinToCurrencyRate != 0.5 {
		t.Fatalf("unexpected settings: %+v", set)
	}
}
