package provider_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llmgateway/llmgateway/internal/apperrors"
	"github.com/llmgateway/llmgateway/internal/chatmodel"
	"github.com/llmgateway/llmgateway/internal/harvester"
	"github.com/llmgateway/llmgateway/internal/provider"
)

// fakeTokenSource implements provider.HarvesterTokenSource without an HTTP
// round trip, so these tests exercise the adapter's retry policy directly.
type fakeTokenSource struct {
	tokens        harvester.Tokens
	refreshCalls  int32
	refreshResult error
}

func (f *fakeTokenSource) GetTokens(ctx context.Context, requiresArkose bool) (harvester.Tokens, error) {
	return f.tokens, nil
}

func (f *fakeTokenSource) Refresh(ctx context.Context, forceArkose bool) error {
	atomic.AddInt32(&f.refreshCalls, 1)
	if f.refreshResult != nil {
		return f.refreshResult
	}
	f.tokens = harvester.Tokens{AccessToken: "refreshed-token", ArkoseToken: f.tokens.ArkoseToken}
	return nil
}

// roundTripFunc adapts a function to http.RoundTripper.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// redirectClient returns a client that sends every request to srv, since
// the adapter always addresses the fixed chatgpt.com backend URL.
func redirectClient(srv *httptest.Server) *http.Client {
	target, _ := url.Parse(srv.URL)
	inner := srv.Client().Transport
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		r = r.Clone(r.Context())
		r.URL.Scheme, r.URL.Host, r.Host = target.Scheme, target.Host, target.Host
		return inner.RoundTrip(r)
	})}
}

func chatRequest(model string) *chatmodel.ChatCompletionRequest {
	return &chatmodel.ChatCompletionRequest{Model: model, Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hi"}}}
}

func TestOpenAIWebRetriesOnceAfter401(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			require.Equal(t, "Bearer stale-token", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.Equal(t, "Bearer refreshed-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"type":"message","message":{"content":{"parts":["hi"]},"status":"finished_successfully","recipient":"all"}}`+"\n\n")
		fmt.Fprint(w, "event: done\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	tokens := &fakeTokenSource{tokens: harvester.Tokens{AccessToken: "stale-token"}}
	web := provider.NewOpenAIWeb(tokens, redirectClient(srv), "", "", "")

	events, err := web.ChatCompletionStream(context.Background(), chatRequest("gpt-3.5-turbo"))
	require.NoError(t, err)

	var sawDone bool
	for ev := range events {
		require.NoError(t, ev.Err)
		if ev.Done {
			sawDone = true
		}
	}
	require.True(t, sawDone)
	require.EqualValues(t, 2, attempts)
	require.EqualValues(t, 1, tokens.refreshCalls)
}

func TestOpenAIWeb403IsWafBlockedAndNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":"blocked"}`)
	}))
	defer srv.Close()

	tokens := &fakeTokenSource{tokens: harvester.Tokens{AccessToken: "t"}}
	web := provider.NewOpenAIWeb(tokens, redirectClient(srv), "", "", "")

	_, err := web.ChatCompletionStream(context.Background(), chatRequest("gpt-4"))
	require.Error(t, err)

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindWafBlocked, appErr.Kind)
	require.EqualValues(t, 1, attempts)
}

func TestOpenAIWeb429FailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"slow down"}`)
	}))
	defer srv.Close()

	tokens := &fakeTokenSource{tokens: harvester.Tokens{AccessToken: "t"}}
	web := provider.NewOpenAIWeb(tokens, redirectClient(srv), "", "", "")

	_, err := web.ChatCompletionStream(context.Background(), chatRequest("gpt-4"))
	require.Error(t, err)

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindRateLimited, appErr.Kind)
}

func TestOpenAIWebArkoseHeaderOnlyForGPT4(t *testing.T) {
	var sawArkoseHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawArkoseHeader = r.Header.Get("Openai-Sentinel-Arkose-Token") != ""
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	tokens := &fakeTokenSource{tokens: harvester.Tokens{AccessToken: "t", ArkoseToken: "arkose"}}
	web := provider.NewOpenAIWeb(tokens, redirectClient(srv), "", "", "")

	events, err := web.ChatCompletionStream(context.Background(), chatRequest("gpt-3.5-turbo"))
	require.NoError(t, err)
	for range events {
	}
	require.False(t, sawArkoseHeader)

	events, err = web.ChatCompletionStream(context.Background(), chatRequest("gpt-4o"))
	require.NoError(t, err)
	for range events {
	}
	require.True(t, sawArkoseHeader)
}
