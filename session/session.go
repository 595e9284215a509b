// Package session keeps a Twitch chat connection alive for a host that polls
// it once per update tick.
//
// A Session validates an access token through Helix, joins the chat channel of
// the user the token belongs to, and on every Tick sends keepalives, detects
// disconnections and reads at most one line, dispatching the resulting events
// to the subscribed handlers. Tick never blocks waiting for data, it only
// probes the socket for at most the poll timeout of the connection.
//
// Start, Tick and Stop must be called from a single goroutine. The Helix
// queries (GetViewerCount, GetRandomChatters) block for a full HTTP round trip
// and are meant to be called from other goroutines.
package session

import (
	"context"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	cmap "github.com/pmrt/concurrent-map/v3"
	"github.com/pmrt/chatbridge/helix"
	"github.com/pmrt/chatbridge/irc"
	"github.com/pmrt/chatbridge/metrics"
	"github.com/pmrt/chatbridge/sampler"
	"github.com/rs/zerolog"
	l "github.com/rs/zerolog/log"
)

var (
	// ErrAuthentication is returned by Start when the token can't be validated.
	ErrAuthentication = errors.New("authentication failed")
	// ErrAlreadyStarted is returned by Start on a session that wasn't stopped.
	ErrAlreadyStarted = errors.New("session already started")
)

// authError is an ErrAuthentication carrying the validation failure.
type authError struct {
	cause error
}

func (e *authError) Error() string {
	return ErrAuthentication.Error() + ": " + e.cause.Error()
}

func (e *authError) Is(target error) bool {
	return target == ErrAuthentication
}

func (e *authError) Unwrap() error {
	return e.cause
}

// Cause lets pkg/errors reach the validation failure.
func (e *authError) Cause() error {
	return e.cause
}

const (
	DefaultAddr      = "irc.chat.twitch.tv:6667"
	DefaultKeepalive = 60 * time.Second
)

type State int32

const (
	Unauthenticated State = iota
	Validating
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Validating:
		return "validating"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unauthenticated"
	}
}

// Credentials are either all empty (unauthenticated) or all set.
type Credentials struct {
	AccessToken string
	Login       string
	UserID      string
	ClientID    string
}

// QueryClient is the subset of the Helix API used by a Session.
type QueryClient interface {
	Validate(ctx context.Context, token string) (*helix.ValidateResponse, error)
	ViewerCount(ctx context.Context, userID, token, clientID string) (int, error)
	Chatters(ctx context.Context, userID, token, clientID string) ([]string, error)
}

type Options struct {
	// Addr of the chat server, host:port. Defaults to DefaultAddr.
	Addr string
	// Keepalive is the interval between PINGs. Defaults to DefaultKeepalive.
	Keepalive time.Duration

	Helix  QueryClient
	Dialer Dialer

	// Rand is used to sample chatters. The session serializes its own use of
	// it, but it must not be shared with other code. If nil, a package level
	// source is used.
	Rand *rand.Rand
}

type Session struct {
	id   string
	opts *Options
	host string
	log  zerolog.Logger

	// guards opts.Rand
	randMu sync.Mutex

	creds atomic.Pointer[Credentials]
	state atomic.Int32

	// owned by the goroutine driving the session
	conn      Conn
	keepalive time.Duration

	subs cmap.ConcurrentMap[Handler]
}

// Start validates `token` and, on success, connects to the chat channel of the
// user it belongs to. FirstConnect is fired before connecting.
//
// On validation failure the session stays Unauthenticated, no connection is
// attempted and an error wrapping ErrAuthentication is returned.
func (s *Session) Start(ctx context.Context, token string) error {
	if !s.state.CompareAndSwap(int32(Unauthenticated), int32(Validating)) {
		return ErrAlreadyStarted
	}

	v, err := s.opts.Helix.Validate(ctx, token)
	if err == nil && (v == nil || v.ClientID == "") {
		err = errors.Wrap(helix.ErrInvalidToken, "validate: missing client_id")
	}
	if err != nil {
		s.setState(Unauthenticated)
		s.log.Error().
			Stack().
			Err(err).
			Msg("token validation failed")
		return &authError{cause: err}
	}

	s.creds.Store(&Credentials{
		AccessToken: token,
		Login:       v.Login,
		UserID:      v.UserID,
		ClientID:    v.ClientID,
	})
	s.log.Info().
		Str("login", v.Login).
		Str("user_id", v.UserID).
		Str("client_id", v.ClientID).
		Msg("user validated")

	s.each(func(h Handler) { h.OnFirstConnect() })
	s.connect(ctx)
	return nil
}

// connect dials the chat server and logs in. It does not wait for any
// acknowledgement: the session is Connected once the connection opens, even if
// the server later rejects the credentials.
func (s *Session) connect(ctx context.Context) {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}

	creds := s.Credentials()
	s.log.Debug().Msgf("=> connecting to %s", s.opts.Addr)
	conn, err := s.opts.Dialer(ctx, s.opts.Addr)
	if err != nil {
		s.setState(Disconnected)
		s.log.Error().
			Err(err).
			Str("addr", s.opts.Addr).
			Msg("couldn't connect to chat")
		return
	}
	s.conn = conn
	s.setState(Connected)

	login := strings.ToLower(creds.Login)
	for _, line := range []string{
		"PASS oauth:" + creds.AccessToken,
		"NICK " + login,
		"JOIN #" + strings.ToLower(s.Channel()),
	} {
		if err := conn.WriteLine(line); err != nil {
			// the dead connection is picked up by the next Tick
			s.log.Error().Err(err).Msg("couldn't log in to chat")
			return
		}
	}
	s.log.Info().
		Str("channel", login).
		Msg("=> joined chat channel")
}

// Tick advances the session by `elapsed`. It sends a PING when the keepalive
// interval is exceeded, reconnects if the connection was lost, and otherwise
// reads and dispatches at most one line if one is available.
//
// Tick never waits for the server. With the TCP Conn a tick on an idle socket
// waits at most the poll timeout (DefaultPollTimeout unless set with DialTCP)
// probing for data, and at most once more when the pending line is incomplete.
// A reconnect dials synchronously.
//
// Reconnection is immediate and unbounded: a permanently failing server is
// retried on every tick.
func (s *Session) Tick(elapsed time.Duration) {
	switch s.State() {
	case Connected:
	case Disconnected:
		s.reconnect()
		return
	default:
		return
	}

	s.keepalive += elapsed
	if s.keepalive > s.opts.Keepalive {
		s.write("PING " + s.host)
		metrics.PingsSent.Inc()
		s.keepalive = 0
	}

	if !s.conn.Alive() {
		s.reconnect()
		return
	}

	if s.conn.Available() <= 0 {
		return
	}

	line, err := s.conn.ReadLine()
	if err != nil {
		s.log.Debug().Err(err).Msg("read failed")
		return
	}
	if line == "" {
		return
	}
	s.handle(line)
}

func (s *Session) reconnect() {
	metrics.Reconnects.Inc()
	s.log.Warn().Msg("chat connection lost, reconnecting")
	s.connect(context.Background())
}

func (s *Session) handle(line string) {
	for _, evt := range irc.Parse(line) {
		metrics.EventsTotal.WithLabelValues(evt.Kind.String()).Inc()

		switch evt.Kind {
		case irc.KindMessage:
			s.each(func(h Handler) { h.OnMessage(evt.Nick, evt.Text) })
		case irc.KindSubscription:
			s.log.Info().
				Str("subscriber", evt.Subscriber).
				Msg("new subscriber")
			s.each(func(h Handler) { h.OnSubscription(evt.Subscriber, evt.Raw) })
		case irc.KindFirstConnect:
			s.each(func(h Handler) { h.OnFirstConnect() })
		case irc.KindPing:
			s.write("PONG " + evt.Payload)
		}
	}
}

func (s *Session) write(line string) {
	if err := s.conn.WriteLine(line); err != nil {
		s.log.Error().Err(err).Msg("write failed")
	}
}

// Stop closes the connection, forgets the credentials and fires Disconnect.
// Stopping an already stopped session does nothing.
func (s *Session) Stop() {
	if s.State() == Unauthenticated && s.conn == nil {
		return
	}

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close failed")
		}
		s.conn = nil
	}
	s.creds.Store(&Credentials{})
	s.keepalive = 0
	s.setState(Unauthenticated)
	s.log.Info().Msg("disconnected from chat")

	s.each(func(h Handler) { h.OnDisconnect() })
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	metrics.SetConnected(s.id, st == Connected)
}

// ID identifies the session in metrics.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// IsConnected reports whether the session holds an open chat connection.
func (s *Session) IsConnected() bool {
	return s.State() == Connected
}

// Credentials returns a copy of the current credentials.
func (s *Session) Credentials() Credentials {
	if c := s.creds.Load(); c != nil {
		return *c
	}
	return Credentials{}
}

// Channel is the chat channel joined, the login of the user.
func (s *Session) Channel() string {
	return s.Credentials().Login
}

// GetViewerCount returns the current viewer count of the user's stream. It
// returns 0 both when the stream is offline and when the query fails, the
// failure is only logged.
func (s *Session) GetViewerCount(ctx context.Context) int {
	creds := s.Credentials()
	if creds.UserID == "" {
		s.log.Error().Msg("user id not obtained")
		return 0
	}

	n, err := s.opts.Helix.ViewerCount(ctx, creds.UserID, creds.AccessToken, creds.ClientID)
	if err != nil {
		s.log.Error().
			Stack().
			Err(err).
			Msg("error fetching viewer count")
		return 0
	}
	return n
}

// GetRandomChatters returns up to `count` distinct chatters picked uniformly
// at random. It returns an empty slice both when the chat is empty and when
// the query fails, the failure is only logged.
func (s *Session) GetRandomChatters(ctx context.Context, count int) []string {
	creds := s.Credentials()
	if creds.UserID == "" {
		s.log.Error().Msg("user id not obtained")
		return []string{}
	}

	chatters, err := s.opts.Helix.Chatters(ctx, creds.UserID, creds.AccessToken, creds.ClientID)
	if err != nil {
		s.log.Error().
			Stack().
			Err(err).
			Msg("error fetching chatters list")
		return []string{}
	}
	if len(chatters) == 0 {
		s.log.Warn().Msg("no chatters found in the chat")
		return []string{}
	}
	s.log.Debug().
		Strs("chatters", chatters).
		Msg("chatters fetched")

	if s.opts.Rand == nil {
		return sampler.Sample(nil, chatters, count)
	}
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return sampler.Sample(s.opts.Rand, chatters, count)
}

// Subscribe registers `h` and returns the id to Unsubscribe it. Every
// subscriber receives every event, in no particular order.
func (s *Session) Subscribe(h Handler) string {
	id := uuid.NewString()
	s.subs.Set(id, h)
	return id
}

func (s *Session) Unsubscribe(id string) {
	s.subs.Remove(id)
}

// OnMessage subscribes `cb` to chat messages.
func (s *Session) OnMessage(cb func(nick, text string)) string {
	return s.Subscribe(HandlerFuncs{Message: cb})
}

// OnSubscription subscribes `cb` to new subscriptions. `raw` is the full
// protocol line.
func (s *Session) OnSubscription(cb func(subscriber, raw string)) string {
	return s.Subscribe(HandlerFuncs{Subscription: cb})
}

// OnFirstConnect subscribes `cb` to successful validations and to the server
// welcome.
func (s *Session) OnFirstConnect(cb func()) string {
	return s.Subscribe(HandlerFuncs{FirstConnect: cb})
}

// OnDisconnect subscribes `cb` to Stop.
func (s *Session) OnDisconnect(cb func()) string {
	return s.Subscribe(HandlerFuncs{Disconnect: cb})
}

func (s *Session) each(fn func(h Handler)) {
	// iterate over a snapshot so handlers can (un)subscribe
	for _, h := range s.subs.Items() {
		fn(h)
	}
}

func New(opts *Options) *Session {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.Dialer == nil {
		opts.Dialer = DialTCP(0, DefaultPollTimeout)
	}
	if opts.Helix == nil {
		opts.Helix = helix.New()
	}

	host, _, err := net.SplitHostPort(opts.Addr)
	if err != nil {
		host = opts.Addr
	}

	id := uuid.NewString()
	s := &Session{
		id:   id,
		opts: opts,
		host: host,
		log: l.With().
			Str("context", "session").
			Str("session", id).
			Logger(),
		subs: cmap.NewWithConcurrencyLevel[Handler](4),
	}
	s.creds.Store(&Credentials{})
	return s
}
