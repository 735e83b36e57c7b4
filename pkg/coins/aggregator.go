package coins

import (
	"context"
	"fmt"
	"strings"
)

// Aggregator serves read-only projections over the ledger. Its reads are
// full scans, eventually consistent, and never block writers.
type Aggregator struct {
	store Store
}

// NewAggregator wires an Aggregator.
func NewAggregator(store Store) (*Aggregator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	return &Aggregator{store: store}, nil
}

// Leaderboard ranks accounts by lifetime earnings, ties broken by account id
// so the ordering is reproducible. Display names are masked.
func (aggregator *Aggregator) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: must be greater than zero", ErrInvalidLimit)
	}
	rows, err := aggregator.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(rows))
	for index, row := range rows {
		entries = append(entries, LeaderboardEntry{
			Rank:       index + 1,
			MaskedName: MaskDisplayName(row.DisplayName),
			TotalCoins: row.TotalEarned,
			Streak:     row.CurrentStreak,
		})
	}
	return entries, nil
}

// Stats returns system-wide supply figures.
func (aggregator *Aggregator) Stats(ctx context.Context) (SystemStats, error) {
	return aggregator.store.Stats(ctx)
}

// MaskDisplayName keeps the first three characters of a display name and
// hides the rest.
func MaskDisplayName(displayName string) string {
	visible := []rune(strings.TrimSpace(displayName))
	if len(visible) > maskedNameVisibleRunes {
		visible = visible[:maskedNameVisibleRunes]
	}
	return string(visible) + maskedNameSuffix
}
