package wallet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestDeploySmartWallet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/wallets/deploy" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-Sponsor-Api-Key") != "sponsor-key" {
			t.Errorf("missing sponsor key header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"address":"0xabc","tx_hash":"0xdeadbeef","deployed":true}`))
	}))
	defer srv.Close()

	dep, err := NewRelayClient(srv.URL, "sponsor-key", 84532).DeploySmartWallet(context.Background(), "0xowner")
	if err != nil {
		t.Fatalf("DeploySmartWallet() error = %v", err)
	}
	if dep.Address != "0xabc" || !dep.Deployed || dep.ChainID != 84532 {
		t.Fatalf("unexpected deployment: %+v", dep)
	}
}

func TestSponsorCallRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"tx_hash":"0xfeed"}`))
	}))
	defer srv.Close()

	tx, err := NewRelayClient(srv.URL, "k", 84532).SponsorCall(context.Background(), "0xw", "0xto", "0x00")
	if err != nil {
		t.Fatalf("SponsorCall() error = %v", err)
	}
	if tx != "0xfeed" {
		t.Fatalf("tx = %q", tx)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestSponsorCallDoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad sponsor key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewRelayClient(srv.URL, "bad", 84532).SponsorCall(context.Background(), "0xw", "0xto", "0x00")
	if err == nil {
		t.Fatalf("expected rejection error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 401)", calls.Load())
	}
}
