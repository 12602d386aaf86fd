package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubPlatform struct {
	t *testing.T

	tokenStatus   int
	tokenBody     string
	streamsStatus int
	streamsBody   string

	tokenCalls   int
	streamsCalls int
	lastAuth     string
	lastClientID string
	lastLogin    string
}

func (s *stubPlatform) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenCalls++
		if r.Method != http.MethodPost {
			s.t.Errorf("token grant used %s, want POST", r.Method)
		}
		if got := r.URL.Query().Get("grant_type"); got != "client_credentials" {
			s.t.Errorf("grant_type = %q, want client_credentials", got)
		}
		w.WriteHeader(s.tokenStatus)
		_, _ = w.Write([]byte(s.tokenBody))
	})
	mux.HandleFunc("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		s.streamsCalls++
		s.lastAuth = r.Header.Get("Authorization")
		s.lastClientID = r.Header.Get("Client-ID")
		s.lastLogin = r.URL.Query().Get("user_login")
		w.WriteHeader(s.streamsStatus)
		_, _ = w.Write([]byte(s.streamsBody))
	})
	return mux
}

func newStubClient(t *testing.T, stub *stubPlatform) *Client {
	t.Helper()
	stub.t = t
	if stub.tokenStatus == 0 {
		stub.tokenStatus = http.StatusOK
	}
	if stub.streamsStatus == 0 {
		stub.streamsStatus = http.StatusOK
	}
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	return NewClient(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Broadcaster:  "examplecaster",
		TokenURL:     server.URL + "/oauth2/token",
		StreamsURL:   server.URL + "/helix/streams",
	}, server.Client())
}

func TestLiveStatusLive(t *testing.T) {
	stub := &stubPlatform{
		tokenBody:   `{"access_token":"tok-123","expires_in":3600}`,
		streamsBody: `{"data":[{"type":"live","user_login":"examplecaster"}]}`,
	}
	client := newStubClient(t, stub)

	live, err := client.LiveStatus(context.Background())
	require.NoError(t, err)
	require.True(t, live)

	require.Equal(t, 1, stub.tokenCalls)
	require.Equal(t, 1, stub.streamsCalls)
	require.Equal(t, "Bearer tok-123", stub.lastAuth)
	require.Equal(t, "client-id", stub.lastClientID)
	require.Equal(t, "examplecaster", stub.lastLogin)
}

func TestLiveStatusOffline(t *testing.T) {
	stub := &stubPlatform{
		tokenBody:   `{"access_token":"tok-123"}`,
		streamsBody: `{"data":[]}`,
	}
	client := newStubClient(t, stub)

	live, err := client.LiveStatus(context.Background())
	require.NoError(t, err)
	require.False(t, live)
}

func TestLiveStatusMissingSecret(t *testing.T) {
	client := NewClient(Config{ClientID: "client-id"}, nil)

	_, err := client.LiveStatus(context.Background())
	require.ErrorIs(t, err, ErrMissingCredential)
}

func TestLiveStatusTokenGrantRejected(t *testing.T) {
	stub := &stubPlatform{
		tokenStatus: http.StatusForbidden,
		tokenBody:   `{"status":403,"message":"invalid client secret"}`,
	}
	client := newStubClient(t, stub)

	_, err := client.LiveStatus(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "token request failed")
	require.Zero(t, stub.streamsCalls, "a failed grant must short-circuit the streams call")
}

func TestLiveStatusTokenResponseMissingToken(t *testing.T) {
	stub := &stubPlatform{tokenBody: `{"expires_in":3600}`}
	client := newStubClient(t, stub)

	_, err := client.LiveStatus(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "access_token")
}

func TestLiveStatusTokenResponseMalformed(t *testing.T) {
	stub := &stubPlatform{tokenBody: `<html>oops</html>`}
	client := newStubClient(t, stub)

	_, err := client.LiveStatus(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "token decode")
}

func TestLiveStatusStreamsRejected(t *testing.T) {
	stub := &stubPlatform{
		tokenBody:     `{"access_token":"tok-123"}`,
		streamsStatus: http.StatusUnauthorized,
		streamsBody:   `{"error":"Unauthorized"}`,
	}
	client := newStubClient(t, stub)

	_, err := client.LiveStatus(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "streams request failed")
}

func TestLiveStatusStreamsMalformed(t *testing.T) {
	stub := &stubPlatform{
		tokenBody:   `{"access_token":"tok-123"}`,
		streamsBody: `not json`,
	}
	client := newStubClient(t, stub)

	_, err := client.LiveStatus(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "streams decode")
}

func TestLiveStatusUpstreamUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	client := NewClient(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Broadcaster:  "examplecaster",
		TokenURL:     addr + "/oauth2/token",
		StreamsURL:   addr + "/helix/streams",
	}, nil)

	_, err := client.LiveStatus(context.Background())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "token request"), "got %v", err)
}
