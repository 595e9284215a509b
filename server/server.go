// Package server exposes the state of a chat bridge over HTTP.
package server

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/pmrt/chatbridge/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	l "github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Bridge is the part of a session the status API reads from.
type Bridge interface {
	State() session.State
	IsConnected() bool
	Channel() string
	Credentials() session.Credentials
	GetViewerCount(ctx context.Context) int
	GetRandomChatters(ctx context.Context, count int) []string
}

type StatusResponse struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
	Login     string `json:"login"`
	Channel   string `json:"channel"`
}

type ViewersResponse struct {
	ViewerCount int `json:"viewer_count"`
}

type ChattersResponse struct {
	Chatters []string `json:"chatters"`
}

// MaxChatters bounds the count accepted by /chatters/random
const MaxChatters = 1000

type handler struct {
	br Bridge
}

func (h *handler) status(c *fiber.Ctx) error {
	creds := h.br.Credentials()
	return c.JSON(&StatusResponse{
		Connected: h.br.IsConnected(),
		State:     h.br.State().String(),
		Login:     creds.Login,
		Channel:   h.br.Channel(),
	})
}

func (h *handler) viewers(c *fiber.Ctx) error {
	return c.JSON(&ViewersResponse{
		ViewerCount: h.br.GetViewerCount(c.UserContext()),
	})
}

func (h *handler) randomChatters(c *fiber.Ctx) error {
	count, err := strconv.Atoi(c.Query("count", "1"))
	if err != nil || count < 1 || count > MaxChatters {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid count")
	}
	return c.JSON(&ChattersResponse{
		Chatters: h.br.GetRandomChatters(c.UserContext(), count),
	})
}

// New returns the status API of `br`.
func New(br Bridge) *fiber.App {
	l := l.With().
		Str("context", "server").
		Logger()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		JSONEncoder:           jsoniter.ConfigCompatibleWithStandardLibrary.Marshal,
	})

	h := &handler{br: br}
	app.Get("/status", h.status)
	app.Get("/viewers", h.viewers)
	app.Get("/chatters/random", h.randomChatters)

	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metrics(c.Context())
		return nil
	})

	l.Debug().Msg("status routes registered")
	return app
}
