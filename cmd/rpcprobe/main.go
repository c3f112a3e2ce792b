// Command rpcprobe connects to a JSON-RPC node over WebSocket, exercises the
// raw client and the provider built on it, then follows new heads until
// interrupted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kleeedolinux/rpcprovider/config"
	"github.com/kleeedolinux/rpcprovider/debug"
	"github.com/kleeedolinux/rpcprovider/jsonrpc"
	"github.com/kleeedolinux/rpcprovider/provider"
	"github.com/kleeedolinux/rpcprovider/wsclient"
)

type header struct {
	Number string `json:"number"`
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	nodeURL := flag.String("url", "", "node url, overrides client.url")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := config.LoggingConfig{Level: "info"}.NewLogger(os.Stderr)
		bootLog.Fatal().Err(err).Msg("cannot load config")
	}
	if *nodeURL != "" {
		cfg.Client.URL = *nodeURL
	}

	log := cfg.Logging.NewLogger(os.Stderr)
	if cfg.Logging.Debug {
		debug.SetOutput(log)
		debug.Enable()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := wsclient.New(cfg.Client.URL,
		wsclient.WithLogger(log),
		wsclient.WithReconnectAttempts(cfg.Client.ReconnectAttempts),
		wsclient.WithReconnectDelay(cfg.Client.ReconnectDelay),
		wsclient.WithMaxReconnectDelay(cfg.Client.MaxReconnectDelay),
		wsclient.WithTransportOptions(
			wsclient.WithHeaders(cfg.Client.HTTPHeader()),
			wsclient.WithReadTimeout(cfg.Client.ReadTimeout),
			wsclient.WithWriteTimeout(cfg.Client.WriteTimeout),
			wsclient.WithCompression(cfg.Client.Compression),
		),
	)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = client.Connect(dialCtx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.Client.URL).Msg("cannot connect")
	}
	defer client.Close()

	coder := jsonrpc.NewCoder()
	if err := probeRaw(ctx, client, coder, log); err != nil {
		log.Fatal().Err(err).Msg("raw probe failed")
	}

	p := provider.New(client, provider.WithLogger(log), provider.WithCoder(coder))
	p.On(provider.EventDisconnected, func(data any) {
		log.Warn().Interface("cause", data).Msg("node disconnected")
	})
	p.On(provider.EventConnected, func(any) {
		log.Info().Msg("node connected")
	})
	p.On(provider.EventError, func(data any) {
		log.Warn().Interface("error", data).Msg("node error")
	})

	state, err := p.Send(ctx, "system_networkState", nil)
	if err != nil {
		log.Fatal().Err(err).Msg("system_networkState failed")
	}
	log.Info().RawJSON("state", state).Msg("network state")

	_, err = provider.SubscribeAs(ctx, p, "newHead", "chain_subscribeNewHead", nil, func(err error, head header) {
		if err != nil {
			log.Warn().Err(err).Msg("bad head")
			return
		}
		log.Info().Str("number", head.Number).Msg("new head")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("cannot subscribe to new heads")
	}

	<-ctx.Done()
	log.Info().Msg("stopping")
}

// probeRaw talks to the client directly, without the provider in between.
func probeRaw(ctx context.Context, client *wsclient.Client, coder *jsonrpc.Coder, log zerolog.Logger) error {
	request, err := coder.Encode("system_health", nil)
	if err != nil {
		return err
	}
	response, err := client.RPCSend(ctx, request)
	if err != nil {
		return err
	}
	result, err := coder.Decode(response)
	if err != nil {
		return err
	}
	log.Info().RawJSON("health", result).Msg("raw send")

	request, err = coder.Encode("chain_subscribeNewHead", nil)
	if err != nil {
		return err
	}
	first := make(chan json.RawMessage, 1)
	err = client.RPCSubscribe(ctx, request, func(response string) {
		result, err := coder.Decode(response)
		if err != nil {
			log.Warn().Err(err).Msg("raw push")
			return
		}
		select {
		case first <- result:
		default:
		}
	})
	if err != nil {
		return err
	}
	log.Info().Msg("raw subscription open, waiting for a head")

	select {
	case head := <-first:
		log.Info().RawJSON("head", head).Msg("raw push")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("no head within 30s")
	case <-ctx.Done():
	}
	return nil
}
