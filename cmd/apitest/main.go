// apitest exercises the signed REST client against the exchange.
// Usage: go run ./cmd/apitest --config configs/demo.example.yaml --ticker TICKER
//
// With --place (demo only) it rests a one-contract bid at 1¢, reads it back
// and cancels it twice to show idempotent cancellation.
//
// Required environment variables:
//
//	KALSHI_KEY_ID           - Your API key ID from Kalshi dashboard
//	KALSHI_PRIVATE_KEY_PATH - Path to your RSA private key PEM file
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/kalshi-trade/internal/api"
	"github.com/rickgao/kalshi-trade/internal/auth"
	"github.com/rickgao/kalshi-trade/internal/config"
	"github.com/rickgao/kalshi-trade/internal/errs"
	"github.com/rickgao/kalshi-trade/internal/metrics"
	"github.com/rickgao/kalshi-trade/internal/order"
	"github.com/rickgao/kalshi-trade/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/demo.example.yaml", "path to config file")
	ticker := flag.String("ticker", "", "market ticker to inspect (default: first open market)")
	place := flag.Bool("place", false, "place and cancel a 1-contract test order (demo only)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting apitest", "version", version.String())

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	creds, err := cfg.LoadCredentials()
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}
	sess, err := cfg.NewSession(creds, logger)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}

	rec := metrics.New(nil)
	client := cfg.NewClient(sess, logger, rec)

	if err := run(ctx, client, cfg, *ticker, *place, creds.Environment, rec, logger); err != nil {
		logger.Error("apitest failed", "error", err, "kind", errs.KindOf(err))
		os.Exit(1)
	}
	logger.Info("apitest complete", "session", sess.State().String())
}

func run(ctx context.Context, client *api.Client, cfg *config.Config, ticker string, place bool, env auth.Environment, rec *metrics.Recorder, logger *slog.Logger) error {
	status, err := client.GetExchangeStatus(ctx)
	if err != nil {
		return fmt.Errorf("get exchange status: %w", err)
	}
	fmt.Printf("[EXCHANGE] active=%v trading=%v\n", status.ExchangeActive, status.TradingActive)

	balance, err := client.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	fmt.Printf("[BALANCE] balance=$%s portfolio=$%s\n",
		api.CentsToDollars(int(balance.Balance)), api.CentsToDollars(int(balance.PortfolioValue)))

	if ticker == "" {
		markets, err := client.GetMarkets(ctx, api.GetMarketsOptions{Status: "open", Limit: 1})
		if err != nil {
			return fmt.Errorf("get markets: %w", err)
		}
		if len(markets.Markets) == 0 {
			return fmt.Errorf("no open markets")
		}
		ticker = markets.Markets[0].Ticker
	}

	book, err := client.GetOrderbook(ctx, ticker, 5)
	if err != nil {
		return fmt.Errorf("get orderbook: %w", err)
	}
	top := book.Orderbook.Top()
	fmt.Printf("[ORDERBOOK] ticker=%s yes_bid=%d yes_ask=%d spread=%d\n", ticker, top.YesBid, top.YesAsk, top.Spread)

	if !place {
		return nil
	}
	if env != auth.EnvDemo {
		return errs.Configuration("--place is only allowed against demo")
	}

	mgr := cfg.NewOrderManager(client, logger, rec)

	o := order.NewLimitOrder(ticker, order.SideYes, order.ActionBuy, order.MinPrice, 1)
	o.PostOnly = true
	ack, err := mgr.Submit(ctx, o)
	if err != nil {
		return fmt.Errorf("submit order: %w", err)
	}
	fmt.Printf("[ORDER] id=%s client_id=%s status=%s\n", ack.OrderID, ack.ClientOrderID, ack.Status)

	if _, err := mgr.Get(ctx, ack.OrderID); err != nil {
		return fmt.Errorf("get order: %w", err)
	}

	if err := mgr.Cancel(ctx, ack.OrderID); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	err = mgr.Cancel(ctx, ack.OrderID)
	fmt.Printf("[CANCEL] second cancel kind=%s\n", errs.KindOf(err))

	for _, e := range mgr.Tracker().Snapshot() {
		fmt.Printf("[TRACKER] client_id=%s order_id=%s status=%s filled=%d\n", e.ClientOrderID, e.OrderID, e.Status, e.FillCount)
	}
	return nil
}
