// Command smm runs the market connectivity layer: synchronized local order
// books over one venue, an order entry gateway and an HTTP/websocket API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"syscall"

	"github.com/unkuseni/rs-smm-v2/internal/api"
	"github.com/unkuseni/rs-smm-v2/internal/events"
	"github.com/unkuseni/rs-smm-v2/internal/feed"
	"github.com/unkuseni/rs-smm-v2/internal/gateway"
	"github.com/unkuseni/rs-smm-v2/internal/logging"
	"github.com/unkuseni/rs-smm-v2/internal/notify"
	"github.com/unkuseni/rs-smm-v2/pkg/cache"
	"github.com/unkuseni/rs-smm-v2/pkg/config"
	"github.com/unkuseni/rs-smm-v2/pkg/db"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/binance"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/bybit"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
)

const version = "0.2.0"

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the settings file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "smm: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	creds, err := config.LoadCredentials()
	if err != nil {
		return err
	}
	mgr, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	settings := mgr.Current()

	var dispatcher *notify.Dispatcher
	if creds.TelegramToken != "" && creds.TelegramChat != 0 {
		sink, err := notify.NewTelegramSink(creds.TelegramToken, creds.TelegramChat)
		if err != nil {
			fmt.Fprintf(os.Stderr, "smm: telegram disabled: %v\n", err)
		} else {
			dispatcher = notify.NewDispatcher(sink, 64)
			defer dispatcher.Close()
		}
	}
	log := logging.New(os.Stdout, settings.LogLevel, dispatcher)

	database, err := db.New(settings.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	store := database.Store()

	ex, err := buildExchange(settings, creds, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	offset, err := ex.SyncTime(ctx)
	if err != nil {
		return fmt.Errorf("time sync with %s: %w", ex.Name(), err)
	}
	log.Success("time synced with %s, offset %s", ex.Name(), offset)

	for _, sym := range settings.Symbols {
		if err := ex.SetLeverage(ctx, sym, settings.Leverage); err != nil {
			log.Warning("set leverage %dx on %s: %v", settings.Leverage, sym, err)
		}
	}

	bus := events.NewBus()
	quotes := cache.NewQuoteCache()
	engine := feed.New(ex, bus, settings.Depth, quotes, log)
	gw := gateway.New(ex, store, bus, log)

	go func() {
		if err := gw.Run(ctx); err != nil && ctx.Err() == nil {
			log.Critical("gateway stopped: %v", err)
		}
	}()

	server := api.NewServer(engine, gw, store, bus, quotes, creds.JWTSecret, api.Meta{
		Venue:   settings.Venue,
		Symbols: settings.Symbols,
		Version: version,
	}, log)
	go func() {
		if err := server.Run(settings.APIAddr); err != nil && ctx.Err() == nil {
			log.Critical("api server stopped: %v", err)
		}
	}()

	// The feed restarts on symbol changes from the settings file; venue
	// changes need a process restart.
	symbols := settings.Symbols
	for {
		feedCtx, cancelFeed := context.WithCancel(ctx)
		feedDone := make(chan error, 1)
		go func() {
			feedDone <- engine.Run(feedCtx, symbols)
		}()

	inner:
		for {
			select {
			case <-ctx.Done():
				cancelFeed()
				<-feedDone
				return nil
			case err := <-feedDone:
				cancelFeed()
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("feed stopped: %w", err)
			case next := <-mgr.Updates():
				if next.Venue != settings.Venue {
					log.Warning("venue change %s -> %s requires a restart, ignoring", settings.Venue, next.Venue)
					next.Venue = settings.Venue
				}
				if reflect.DeepEqual(next.Symbols, symbols) {
					settings = next
					continue inner
				}
				log.Info("symbols changed to %v, restarting feed", next.Symbols)
				settings = next
				symbols = next.Symbols
				cancelFeed()
				<-feedDone
				break inner
			}
		}
	}
}

func buildExchange(s config.Settings, creds *config.Credentials, log *logging.Logger) (common.Exchange, error) {
	switch s.Venue {
	case "bybit":
		return bybit.New(bybit.Config{
			APIKey:    creds.BybitKey,
			APISecret: creds.BybitSecret,
			Testnet:   s.Testnet,
		}, log), nil
	case "binance":
		return binance.New(binance.Config{
			APIKey:    creds.BinanceKey,
			APISecret: creds.BinanceSecret,
			Testnet:   s.Testnet,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown venue %q", s.Venue)
	}
}
