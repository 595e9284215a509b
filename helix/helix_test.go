package helix

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-test/deep"
	"github.com/pkg/errors"
	"github.com/pmrt/chatbridge/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	token    = "thisisanososecrettoken"
	clientID = "fake-client-id"
	userID   = "123"
)

func newTestHelix(t *testing.T, h http.HandlerFunc) *Helix {
	sv := httptest.NewServer(h)
	t.Cleanup(sv.Close)

	hx := NewWithClient(sv.Client())
	hx.APIUrl = sv.URL
	hx.ValidateUrl = sv.URL + "/oauth2/validate"
	return hx
}

func TestDefaultValidateURL(t *testing.T) {
	t.Parallel()

	if got, want := DefaultValidateURL, "https://id.twitch.tv/oauth2/validate"; got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestHelixValidate(t *testing.T) {
	t.Parallel()

	hx := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.URL.Path, "/oauth2/validate"; got != want {
			t.Errorf("path: got %s, want %s", got, want)
		}
		if got, want := r.Header.Get("Authorization"), "OAuth "+token; got != want {
			t.Errorf("authorization: got %s, want %s", got, want)
		}
		if got := r.Header.Get("Client-Id"); got != "" {
			t.Errorf("expected no Client-Id header, got %s", got)
		}
		fmt.Fprint(w, `{"client_id":"cid","login":"bob","scopes":["chat:read"],"user_id":"123","expires_in":5520}`)
	})

	got, err := hx.Validate(context.Background(), token)
	if err != nil {
		t.Fatal(err)
	}

	want := &ValidateResponse{
		ClientID:  "cid",
		Login:     "bob",
		Scopes:    []string{"chat:read"},
		UserID:    "123",
		ExpiresIn: 5520,
	}
	if diff := deep.Equal(got, want); diff != nil {
		t.Fatal(diff)
	}
}

func TestHelixValidateFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{
			name:    "rejected token",
			status:  http.StatusUnauthorized,
			body:    `{"status":401,"message":"invalid access token"}`,
			wantErr: ErrInvalidToken,
		},
		{
			name:    "missing login",
			status:  http.StatusOK,
			body:    `{"client_id":"cid","login":"","user_id":"123"}`,
			wantErr: ErrInvalidToken,
		},
		{
			name:    "missing user id",
			status:  http.StatusOK,
			body:    `{"client_id":"cid","login":"bob"}`,
			wantErr: ErrInvalidToken,
		},
		{
			name:    "null body",
			status:  http.StatusOK,
			body:    `null`,
			wantErr: ErrInvalidToken,
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			wantErr: ErrUnexpectedStatus,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			hx := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
				fmt.Fprint(w, test.body)
			})

			v, err := hx.Validate(context.Background(), token)
			if v != nil {
				t.Fatalf("expected no identity, got %+v", v)
			}
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("got %v, want %v", err, test.wantErr)
			}
		})
	}
}

func TestHelixValidateMalformedBody(t *testing.T) {
	t.Parallel()

	hx := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"login":`)
	})

	if _, err := hx.Validate(context.Background(), token); err == nil {
		t.Fatal("expected decode error")
	}
}

func assertAuthorized(t *testing.T, r *http.Request) {
	if got, want := r.Header.Get("Authorization"), "Bearer "+token; got != want {
		t.Errorf("authorization: got %s, want %s", got, want)
	}
	if got, want := r.Header.Get("Client-Id"), clientID; got != want {
		t.Errorf("client id: got %s, want %s", got, want)
	}
}

func TestHelixViewerCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		want    int
		wantErr bool
	}{
		{
			name:   "live",
			status: http.StatusOK,
			body:   `{"data":[{"id":"1","user_id":"123","user_login":"bob","type":"live","viewer_count":1234,"started_at":"2022-06-22T15:00:00Z"}],"pagination":{}}`,
			want:   1234,
		},
		{
			name:   "offline",
			status: http.StatusOK,
			body:   `{"data":[],"pagination":{}}`,
			want:   0,
		},
		{
			name:    "unauthorized",
			status:  http.StatusUnauthorized,
			body:    `{"error":"Unauthorized","status":401,"message":"Invalid OAuth token"}`,
			want:    0,
			wantErr: true,
		},
		{
			name:    "malformed",
			status:  http.StatusOK,
			body:    `{"data":[{"viewer_count":"many"}]}`,
			want:    0,
			wantErr: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			hx := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
				assertAuthorized(t, r)
				if got, want := r.URL.Path, "/streams"; got != want {
					t.Errorf("path: got %s, want %s", got, want)
				}
				if got, want := r.URL.Query().Get("user_id"), userID; got != want {
					t.Errorf("user_id: got %s, want %s", got, want)
				}
				w.WriteHeader(test.status)
				fmt.Fprint(w, test.body)
			})

			got, err := hx.ViewerCount(context.Background(), userID, token, clientID)
			if (err != nil) != test.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if got != test.want {
				t.Fatalf("got %d, want %d", got, test.want)
			}
		})
	}
}

func TestHelixChatters(t *testing.T) {
	t.Parallel()

	var reqs int32
	hx := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&reqs, 1)
		assertAuthorized(t, r)
		q := r.URL.Query()
		if got, want := r.URL.Path, "/chat/chatters"; got != want {
			t.Errorf("path: got %s, want %s", got, want)
		}
		if got, want := q.Get("broadcaster_id"), userID; got != want {
			t.Errorf("broadcaster_id: got %s, want %s", got, want)
		}
		if got, want := q.Get("moderator_id"), userID; got != want {
			t.Errorf("moderator_id: got %s, want %s", got, want)
		}
		if got, want := q.Get("first"), "2"; got != want {
			t.Errorf("first: got %s, want %s", got, want)
		}
		if q.Get("after") != "" {
			t.Errorf("pagination cursor must not be followed")
		}
		fmt.Fprint(w, `{"data":[{"user_id":"1","user_login":"alice","user_name":"Alice"},{"user_id":"2","user_login":"carol","user_name":"Carol"}],"pagination":{"cursor":"eyJiIjpudWxsLCJhIjp7Ik9mZnNldCI6NX19"},"total":8}`)
	})
	hx.ChattersPageSize = 2

	got, err := hx.Chatters(context.Background(), userID, token, clientID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(got, []string{"alice", "carol"}); diff != nil {
		t.Fatal(diff)
	}
	if n := atomic.LoadInt32(&reqs); n != 1 {
		t.Fatalf("expected exactly 1 request, got %d", n)
	}
}

func TestHelixChattersFailure(t *testing.T) {
	t.Parallel()

	hx := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	got, err := hx.Chatters(context.Background(), userID, token, clientID)
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected no chatters, got %v", got)
	}

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden {
		t.Fatalf("expected a StatusError with code 403, got %v", err)
	}
}

func TestHelixRequestsAreCounted(t *testing.T) {
	hx := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	c := metrics.HelixRequestsTotal.WithLabelValues(EndpointStreams, metrics.ResultError)
	before := testutil.ToFloat64(c)
	hx.ViewerCount(context.Background(), userID, token, clientID)
	if got, want := testutil.ToFloat64(c), before+1; got != want {
		t.Fatalf("got %f, want %f", got, want)
	}
}
