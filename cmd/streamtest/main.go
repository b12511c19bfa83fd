// streamtest connects to the Kalshi WebSocket and prints stream messages to console.
// Usage: go run ./cmd/streamtest --config configs/demo.example.yaml --tickers TICKER1,TICKER2
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
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/kalshi-trade/internal/api"
	"github.com/rickgao/kalshi-trade/internal/config"
	"github.com/rickgao/kalshi-trade/internal/metrics"
	"github.com/rickgao/kalshi-trade/internal/stream"
	"github.com/rickgao/kalshi-trade/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/demo.example.yaml", "path to config file")
	tickers := flag.String("tickers", "", "comma-separated market tickers (default: first 5 open markets)")
	channels := flag.String("channels", "orderbook_delta,trade", "comma-separated market channels")
	fills := flag.Bool("fills", true, "also subscribe to the account fill channel")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting streamtest", "version", version.String())

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
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
	logger.Info("using API credentials", "key_id", creds.KeyID, "ws_url", sess.WSURL())

	rec := metrics.New(nil)

	marketTickers := splitList(*tickers)
	if len(marketTickers) == 0 {
		client := cfg.NewClient(sess, logger, rec)
		markets, err := client.GetMarkets(ctx, api.GetMarketsOptions{Status: "open", Limit: 5})
		if err != nil {
			logger.Error("failed to list open markets", "error", err)
			os.Exit(1)
		}
		for _, m := range markets.Markets {
			marketTickers = append(marketTickers, m.Ticker)
		}
	}

	sub := cfg.NewSubscriber(sess, logger, rec)
	defer sub.Close()

	logger.Info("connecting")
	if err := sub.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	for _, ch := range splitList(*channels) {
		s, err := sub.Subscribe(ctx, ch, stream.Params{MarketTickers: marketTickers})
		if err != nil {
			logger.Error("failed to subscribe", "channel", ch, "error", err)
			os.Exit(1)
		}
		logger.Info("subscribed", "subscription", s.String(), "sid", s.SID())
	}
	if *fills {
		if _, err := sub.Subscribe(ctx, stream.ChannelFill, stream.Params{}); err != nil {
			logger.Error("failed to subscribe", "channel", stream.ChannelFill, "error", err)
			os.Exit(1)
		}
	}

	go printStates(ctx, sub, logger)

	logger.Info("streaming started - press Ctrl+C to stop", "markets", len(marketTickers))

	var received, gaps int
	stats := time.NewTicker(10 * time.Second)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown complete", "received", received, "gaps", gaps)
			return
		case <-stats.C:
			state, attempt := sub.State()
			logger.Info("stats",
				"state", state.String(),
				"attempt", attempt,
				"epoch", sub.Epoch(),
				"received", received,
				"gaps", gaps,
			)
		case msg, ok := <-sub.Messages():
			if !ok {
				if err := sub.Err(); err != nil {
					logger.Error("stream stopped", "error", err)
					os.Exit(1)
				}
				return
			}
			received++
			if msg.SeqGap {
				gaps++
			}
			printMessage(msg, *verbose)
		}
	}
}

func printMessage(msg stream.Message, verbose bool) {
	if verbose {
		fmt.Printf("[%s] epoch=%d %s\n", strings.ToUpper(msg.Type), msg.Epoch, msg.Raw)
		return
	}
	sub := "-"
	if msg.Subscription != nil {
		sub = msg.Subscription.String()
	}
	fmt.Printf("[%s] sub=%s sid=%d seq=%d epoch=%d gap=%d bytes=%d\n",
		strings.ToUpper(msg.Type), sub, msg.SID, msg.Seq, msg.Epoch, msg.GapSize, len(msg.Msg))
}

func printStates(ctx context.Context, sub *stream.Subscriber, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sc, ok := <-sub.States():
			if !ok {
				return
			}
			logger.Info("state change",
				"state", sc.State.String(),
				"attempt", sc.Attempt,
				"epoch", sc.Epoch,
				"error", sc.Err,
			)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
