package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/charliebot/config"
	"github.com/alejandrodnm/charliebot/internal/adapters/bybit"
	"github.com/alejandrodnm/charliebot/internal/adapters/paper"
	"github.com/alejandrodnm/charliebot/internal/domain"
	"github.com/alejandrodnm/charliebot/internal/ports"
)

// newExchange es la factoría de venues. En modo paper los precios vienen
// del ticker público de Bybit y los fills se simulan localmente.
func newExchange(ctx context.Context, cfg *config.Config, paperMode bool) (ports.Exchange, func(), error) {
	clientCfg := bybit.ClientConfig{
		BaseURL:   cfg.Exchange.BaseURL,
		Symbol:    cfg.Exchange.Symbol,
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Testnet:   cfg.Exchange.Testnet,
	}

	if cfg.Exchange.Name != bybit.Name {
		return nil, nil, fmt.Errorf("newExchange: %q: %w", cfg.Exchange.Name, domain.ErrUnknownExchange)
	}

	if paperMode {
		px := paper.New(bybit.NewClient(clientCfg), cfg.Paper.Balance)
		return px, func() { logPaperFills(px.Fills()) }, nil
	}

	if clientCfg.APIKey == "" || clientCfg.APISecret == "" {
		return nil, nil, fmt.Errorf("newExchange: BYBIT_API_KEY and BYBIT_API_SECRET are required for live trading")
	}
	ex := bybit.New(ctx, bybit.Config{
		Client:        clientCfg,
		StreamURL:     cfg.Exchange.StreamURL,
		AckTimeout:    cfg.AckTimeout(),
		DisableStream: cfg.Exchange.DisableStream,
	})
	return ex, ex.Close, nil
}

// logPaperFills resume la sesión simulada al cerrar.
func logPaperFills(fills []paper.Fill) {
	var longs, shorts int
	for _, f := range fills {
		if f.Side == domain.SideLong {
			longs += f.Quantity
		} else {
			shorts += f.Quantity
		}
	}
	slog.Info("paper: session fills", "fills", len(fills), "long_contracts", longs, "short_contracts", shorts)
}
