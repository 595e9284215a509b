package helix

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/pmrt/chatbridge/metrics"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrInvalidToken is returned by Validate when the token is rejected or the
	// validation payload does not carry an identity.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnexpectedStatus is returned for any non 200 response.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// StatusError reports a non 200 response. It matches ErrUnexpectedStatus with
// errors.Is.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: expected 200 response, got %d", e.Endpoint, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// Endpoint names, used as metric labels
const (
	EndpointValidate = "validate"
	EndpointStreams  = "streams"
	EndpointChatters = "chatters"
)

// DefaultValidateURL is the token validation endpoint, derived from the twitch
// oauth2 endpoint, i.e.: https://id.twitch.tv/oauth2/validate
var DefaultValidateURL = strings.TrimSuffix(twitch.Endpoint.TokenURL, "/token") + "/validate"

type Helix struct {
	APIUrl, ValidateUrl string

	// ChattersPageSize sets the `first` query parameter of the chatters
	// request. 0 leaves it to the API default.
	ChattersPageSize int

	c *http.Client
}

// Validate checks `token` against the validation endpoint and returns the
// identity bound to it. The token is sent with the OAuth scheme and no
// Client-Id, since the client id is not known until validation succeeds.
//
// A 200 response without login or user_id is still an ErrInvalidToken.
func (hx *Helix) Validate(ctx context.Context, token string) (*ValidateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hx.ValidateUrl, nil)
	if err != nil {
		return nil, errors.Wrap(err, "validate: new request")
	}
	req.Header.Set("Authorization", "OAuth "+token)

	var v *ValidateResponse
	if err := hx.do(hx.c, req, EndpointValidate, func(r io.Reader) error {
		return jsonAPI.NewDecoder(r).Decode(&v)
	}); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
			return nil, errors.Wrap(ErrInvalidToken, err.Error())
		}
		return nil, err
	}

	if v == nil || v.Login == "" || v.UserID == "" {
		return nil, errors.Wrap(ErrInvalidToken, "validate: missing login or user_id")
	}
	return v, nil
}

// ViewerCount returns the viewer count of the stream of `userID`, or 0 if the
// user is not live.
func (hx *Helix) ViewerCount(ctx context.Context, userID, token, clientID string) (int, error) {
	q := url.Values{}
	q.Set("user_id", userID)

	req, err := hx.newAuthorizedRequest(ctx, "/streams", q, clientID)
	if err != nil {
		return 0, err
	}

	var resp *StreamsResponse
	if err := hx.do(hx.bearer(token), req, EndpointStreams, func(r io.Reader) error {
		return jsonAPI.NewDecoder(r).Decode(&resp)
	}); err != nil {
		return 0, err
	}

	if resp == nil || len(resp.Data) == 0 {
		return 0, nil
	}
	return resp.Data[0].ViewerCount, nil
}

// Chatters returns the login names of the users connected to the chat of
// `userID`, requested as both broadcaster and moderator. Only the first page is
// read, the pagination cursor is never followed.
func (hx *Helix) Chatters(ctx context.Context, userID, token, clientID string) ([]string, error) {
	q := url.Values{}
	q.Set("broadcaster_id", userID)
	q.Set("moderator_id", userID)
	if hx.ChattersPageSize > 0 {
		q.Set("first", strconv.Itoa(hx.ChattersPageSize))
	}

	req, err := hx.newAuthorizedRequest(ctx, "/chat/chatters", q, clientID)
	if err != nil {
		return nil, err
	}

	d := NewChatterDecoder()
	if hx.ChattersPageSize > 0 {
		d.PageSize = uint64(hx.ChattersPageSize)
	}
	if err := hx.do(hx.bearer(token), req, EndpointChatters, d.Decode); err != nil {
		return nil, err
	}
	return d.Logins(), nil
}

func (hx *Helix) newAuthorizedRequest(ctx context.Context, path string, q url.Values, clientID string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hx.APIUrl+path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: new request", path)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", clientID)
	return req, nil
}

// bearer returns a client that injects `Authorization: Bearer <token>` into
// every request, reusing the transport of the base client.
func (hx *Helix) bearer(token string) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{
				AccessToken: token,
				TokenType:   "Bearer",
			}),
			Base: hx.c.Transport,
		},
		Timeout: hx.c.Timeout,
	}
}

// do sends `req` with `c`, expects a 200 and hands the body to `decode`. The
// outcome is recorded under `endpoint`.
func (hx *Helix) do(c *http.Client, req *http.Request, endpoint string, decode func(r io.Reader) error) (err error) {
	start := time.Now()
	defer func() {
		metrics.HelixRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		result := metrics.ResultOK
		if err != nil {
			result = metrics.ResultError
		}
		metrics.HelixRequestsTotal.WithLabelValues(endpoint, result).Inc()
	}()

	resp, err := c.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s: request", endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused
		io.Copy(io.Discard, resp.Body)
		return errors.WithStack(&StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
		})
	}

	if err := decode(resp.Body); err != nil {
		return errors.Wrapf(err, "%s: decode", endpoint)
	}
	return nil
}

// NewWithClient instantiates a new Helix client on top of `c`. Useful for
// testing.
func NewWithClient(c *http.Client) *Helix {
	return &Helix{
		APIUrl:      "https://api.twitch.tv/helix",
		ValidateUrl: DefaultValidateURL,
		c:           c,
	}
}

func New() *Helix {
	return NewWithClient(&http.Client{})
}
