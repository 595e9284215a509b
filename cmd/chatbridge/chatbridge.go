package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pmrt/chatbridge/config"
	"github.com/pmrt/chatbridge/helix"
	"github.com/pmrt/chatbridge/planner"
	"github.com/pmrt/chatbridge/server"
	"github.com/pmrt/chatbridge/session"
	l "github.com/rs/zerolog/log"
)

func main() {
	l := l.With().
		Str("context", "app").
		Logger()

	l.Info().Msg("starting chat bridge")

	if config.ChatAccessToken == "" {
		l.Fatal().Msg("CHAT_ACCESS_TOKEN is required")
	}

	hx := helix.New()
	hx.APIUrl = config.HelixAPIUrl
	if config.HelixValidateUrl != "" {
		hx.ValidateUrl = config.HelixValidateUrl
	}
	hx.ChattersPageSize = config.ChattersPageSize

	s := session.New(&session.Options{
		Addr:      net.JoinHostPort(config.ChatHost, config.ChatPort),
		Keepalive: time.Duration(config.KeepaliveSeconds) * time.Second,
		Helix:     hx,
	})
	s.OnSubscription(func(subscriber, raw string) {
		l.Info().
			Str("subscriber", subscriber).
			Msg("subscription received")
	})
	s.OnMessage(func(nick, text string) {
		l.Debug().
			Str("nick", nick).
			Msg(text)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx, config.ChatAccessToken); err != nil {
		l.Fatal().Err(err).Msg("couldn't start chat session")
	}
	defer s.Stop()

	p := planner.New(s, &planner.PlannerOpts{
		TickInterval:       time.Duration(config.TickMilliseconds) * time.Millisecond,
		ViewerPollInterval: time.Duration(config.ViewerPollSeconds) * time.Second,
		APIPort:            config.APIPort,
		Server:             server.New(s),
		OnViewerCount: func(n int) {
			l.Debug().Int("viewers", n).Msg("viewer count polled")
		},
	})
	if err := p.Run(ctx); err != nil {
		l.Error().Err(err).Msg("planner stopped")
	}
	l.Info().Msg("shutting down")
}

func init() {
	config.Setup()
}
