package store

import (
	"context"
	"fmt"
	"strings"

	"factorlab/internal/domain"
)

// ResolveAssets returns the universe for a run. Assets come from the asset
// table; when it is empty, every symbol with bars in market is numbered from
// sid 1 in symbol order. A non-empty symbols list restricts the universe to
// those symbols, in the order given.
func ResolveAssets(ctx context.Context, assets AssetReader, bars BarStore, market string, symbols []string) ([]domain.Asset, error) {
	known, err := assets.ListAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	if len(known) == 0 {
		syms, err := bars.ListSymbols(ctx, market)
		if err != nil {
			return nil, fmt.Errorf("listing %s symbols: %w", market, err)
		}
		for i, s := range syms {
			known = append(known, domain.Asset{SID: int64(i + 1), Symbol: s})
		}
	}
	if len(symbols) == 0 {
		return known, nil
	}

	bySymbol := make(map[string]domain.Asset, len(known))
	for _, a := range known {
		bySymbol[a.Symbol] = a
	}
	out := make([]domain.Asset, 0, len(symbols))
	for _, s := range symbols {
		a, ok := bySymbol[strings.ToUpper(s)]
		if !ok {
			return nil, fmt.Errorf("unknown symbol %q", s)
		}
		out = append(out, a)
	}
	return out, nil
}
