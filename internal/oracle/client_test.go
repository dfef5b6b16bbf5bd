package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetPrices(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oracle/prices" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("indexes")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"pairIndex":"0","price":"6795012000000","decimals":"8","timestamp":"1724940000"},
			{"pairIndex":"1","price":"265000000000","decimals":"8","timestamp":"1724940000"}
		]}`))
	}))
	defer srv.Close()

	feeds, err := NewClient(srv.URL).GetPrices(context.Background(), []int{0, 1, 10, 16})
	if err != nil {
		t.Fatalf("GetPrices() error = %v", err)
	}
	if gotQuery != "0,1,10,16" {
		t.Fatalf("indexes query = %q", gotQuery)
	}
	if len(feeds) != 2 || feeds[0].PairIndex != "0" || feeds[0].Price != "6795012000000" {
		t.Fatalf("unexpected feeds: %+v", feeds)
	}
}

func TestGetPricesRequiresIndexes(t *testing.T) {
	_, err := NewClient("http://example.invalid").GetPrices(context.Background(), nil)
	if !errors.Is(err, ErrNoPairs) {
		t.Fatalf("error = %v, want ErrNoPairs", err)
	}
}

func TestGetPricesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Failed to fetch oracle data"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetPrices(context.Background(), []int{0})
	if err == nil {
		t.Fatalf("expected error payload to surface")
	}
}

func TestGetPricesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetPrices(context.Background(), []int{0})
	if err == nil {
		t.Fatalf("expected status error")
	}
}
