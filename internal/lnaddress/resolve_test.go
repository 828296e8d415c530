package lnaddress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveln-bridge/bridge/pkg/logger"
)

func init() {
	_ = logger.Init("development")
}

func TestResolveLightningAddress_Success(t *testing.T) {
	var callbackURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/lnurlp/satoshi":
			json.NewEncoder(w).Encode(payServiceResponse{
				Callback:    callbackURL,
				MinSendable: 1000,
				MaxSendable: 100000000,
				Tag:         "payRequest",
			})
		case "/callback":
			assert.Equal(t, "50000", r.URL.Query().Get("amount"))
			json.NewEncoder(w).Encode(invoiceResponse{PR: "lnbc500n1invoice"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()
	callbackURL = server.URL + "/callback"

	r := NewWithBaseURL(server.URL, server.Client())
	bolt11, err := r.ResolveLightningAddress(context.Background(), "satoshi@example.com", 50000)

	require.NoError(t, err)
	assert.Equal(t, "lnbc500n1invoice", bolt11)
}

func TestResolveLightningAddress_InvalidAddress(t *testing.T) {
	r := New(nil)

	_, err := r.ResolveLightningAddress(context.Background(), "not-an-address", 1000)

	assert.Error(t, err)
}

func TestResolveLightningAddress_WrongTag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payServiceResponse{Callback: "https://x", Tag: "withdrawRequest"})
	}))
	defer server.Close()

	r := NewWithBaseURL(server.URL, server.Client())
	_, err := r.ResolveLightningAddress(context.Background(), "satoshi@example.com", 1000)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a payRequest")
}

func TestResolveLightningAddress_AmountBelowMinimum(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payServiceResponse{Callback: "https://x/cb", MinSendable: 10000, MaxSendable: 100000})
	}))
	defer server.Close()

	r := NewWithBaseURL(server.URL, server.Client())
	_, err := r.ResolveLightningAddress(context.Background(), "satoshi@example.com", 500)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "below")
}

func TestResolveLightningAddress_AmountAboveMaximum(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payServiceResponse{Callback: "https://x/cb", MinSendable: 1000, MaxSendable: 5000})
	}))
	defer server.Close()

	r := NewWithBaseURL(server.URL, server.Client())
	_, err := r.ResolveLightningAddress(context.Background(), "satoshi@example.com", 50000)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "above")
}

func TestResolveLightningAddress_CallbackRejects(t *testing.T) {
	var callbackURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/lnurlp/satoshi":
			json.NewEncoder(w).Encode(payServiceResponse{Callback: callbackURL})
		case "/callback":
			json.NewEncoder(w).Encode(invoiceResponse{Status: "ERROR", Reason: "amount out of range"})
		}
	}))
	defer server.Close()
	callbackURL = server.URL + "/callback"

	r := NewWithBaseURL(server.URL, server.Client())
	_, err := r.ResolveLightningAddress(context.Background(), "satoshi@example.com", 50000)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount out of range")
}

func TestResolveLightningAddress_WellKnownUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	r := NewWithBaseURL(server.URL, server.Client())
	_, err := r.ResolveLightningAddress(context.Background(), "satoshi@example.com", 1000)

	assert.Error(t, err)
}

func TestResolveLightningAddress_CallbackWithExistingQueryParam(t *testing.T) {
	var callbackURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/lnurlp/satoshi":
			json.NewEncoder(w).Encode(payServiceResponse{Callback: callbackURL})
		case "/callback":
			assert.Equal(t, "abc", r.URL.Query().Get("nonce"))
			assert.Equal(t, "1000", r.URL.Query().Get("amount"))
			json.NewEncoder(w).Encode(invoiceResponse{PR: "lnbc1u1invoice"})
		}
	}))
	defer server.Close()
	callbackURL = server.URL + "/callback?nonce=abc"

	r := NewWithBaseURL(server.URL, server.Client())
	bolt11, err := r.ResolveLightningAddress(context.Background(), "satoshi@example.com", 1000)

	require.NoError(t, err)
	assert.Equal(t, "lnbc1u1invoice", bolt11)
}
