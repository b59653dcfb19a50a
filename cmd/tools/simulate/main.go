package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/backend-settle/internal/config"
	"github.com/noah-isme/backend-settle/internal/ledger"
	"github.com/noah-isme/backend-settle/internal/menu"
	"github.com/noah-isme/backend-settle/internal/obs"
	"github.com/noah-isme/backend-settle/internal/pricing"
	"github.com/noah-isme/backend-settle/internal/settle"
	"github.com/noah-isme/backend-settle/internal/split"
)

// simulate opens one in-process bill and races terminals paying a fixed
// amount against it until the bill settles.
func main() {
	var (
		terminals = flag.Int("terminals", 8, "number of concurrent terminals")
		amount    = flag.Int64("amount", 500, "amount each terminal pays, in minor units")
		items     = flag.String("items", "rup-drink-1:2,rup-food-1:1", "comma separated menuItemId:quantity lines")
		tip       = flag.Int("tip", 0, "tip percent applied to the bill")
	)
	flag.Parse()

	logger := obs.NewLogger("console", "info").With().Str("component", "simulate").Logger()
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	logger = obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "simulate").Logger()

	lines, err := parseLines(*items)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse items")
	}

	svc := settle.NewService(settle.Config{
		Ledger: ledger.Config{
			Rates:    cfg.Rates(),
			Resolver: split.Resolver{PartyMin: cfg.PartySizeMin, PartyMax: cfg.PartySizeMax},
			Epsilon:  cfg.Epsilon,
		},
		Tip:      cfg.Tip,
		Currency: cfg.Currency,
		Catalog:  menu.Demo(),
	})

	ctx := context.Background()
	opened, err := svc.OpenBill(ctx, settle.OpenBillInput{TableID: "sim", TipPercent: *tip, Items: lines})
	if err != nil {
		logger.Fatal().Err(err).Msg("open bill")
	}
	logger.Info().
		Str("bill", opened.ID).
		Str("total", pricing.FormatMoney(opened.Total, opened.Currency)).
		Str("per_terminal", pricing.FormatMoney(pricing.Money(*amount), opened.Currency)).
		Int("terminals", *terminals).
		Msg("bill opened")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected = map[string]int{}
	)
	start := time.Now()
	for i := 0; i < *terminals; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.ExternalPayment(ctx, opened.ID, settle.ExternalInput{
				PayerID: fmt.Sprintf("terminal-%d", n),
				Amount:  pricing.Money(*amount),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			rejected[reason(err)]++
		}(i)
	}
	wg.Wait()

	final, err := svc.Bill(ctx, opened.ID, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("reload bill")
	}
	evt := logger.Info().
		Int("accepted", accepted).
		Str("paid", pricing.FormatMoney(final.Paid, final.Currency)).
		Str("remaining", pricing.FormatMoney(final.Remaining, final.Currency)).
		Bool("settled", final.Settled).
		Dur("elapsed", time.Since(start))
	for k, v := range rejected {
		evt = evt.Int("rejected_"+k, v)
	}
	evt.Msg("simulation finished")
}

func parseLines(raw string) ([]settle.LineInput, error) {
	var out []settle.LineInput
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var qty int
		id, q, ok := strings.Cut(part, ":")
		if !ok {
			qty = 1
		} else if _, err := fmt.Sscanf(q, "%d", &qty); err != nil {
			return nil, fmt.Errorf("quantity for %s: %w", id, err)
		}
		out = append(out, settle.LineInput{MenuItemID: id, Quantity: qty})
	}
	if len(out) == 0 {
		return nil, errors.New("no items")
	}
	return out, nil
}

func reason(err error) string {
	var over *ledger.OverpaymentError
	switch {
	case errors.As(err, &over):
		return "overpayment"
	case errors.Is(err, ledger.ErrBillAlreadySettled):
		return "settled"
	default:
		return "other"
	}
}
