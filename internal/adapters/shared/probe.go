package shared

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/profitlens/exsync/internal/schema"
)

// TradeProbe is one candidate endpoint family for derivatives trade history.
type TradeProbe struct {
	Name  string
	Fetch func(ctx context.Context) ([]schema.Trade, error)
}

// RunTradeCascade walks the probes strictly in priority order, returning the
// first non-empty, well-formed result. A failed probe logs and falls through
// to the next candidate; it never aborts the cascade. When every probe yields
// nothing the cascade returns an empty list with a warning, because absent
// derivatives history is an expected terminal state, not an error.
func RunTradeCascade(ctx context.Context, log zerolog.Logger, probes []TradeProbe) ([]schema.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, probe := range probes {
		trades, err := probe.Fetch(ctx)
		if err != nil {
			log.Warn().Err(err).Str("probe", probe.Name).
				Msg("futures probe failed, trying next endpoint family")
			continue
		}
		if len(trades) > 0 {
			return trades, nil
		}
	}
	log.Warn().Int("probes", len(probes)).
		Msg("futures cascade exhausted with no trades")
	return []schema.Trade{}, nil
}
