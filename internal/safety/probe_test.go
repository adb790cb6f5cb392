package safety

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"solana-pump-bot/internal/jupiter"
)

// stubQuotes is a QuoteSource test double: routeExists controls whether
// GetQuote returns a route at all, outAmount controls the quoted amount.
type stubQuotes struct {
	routeExists bool
	outAmount   string
}

func (s *stubQuotes) GetQuote(ctx context.Context, inputMint, outputMint string, amountLamports uint64) (*jupiter.QuoteResponse, error) {
	if !s.routeExists {
		return nil, fmt.Errorf("no route")
	}
	return &jupiter.QuoteResponse{InputMint: inputMint, OutputMint: outputMint, OutAmount: s.outAmount}, nil
}

func liquidQuotes() *stubQuotes {
	return &stubQuotes{routeExists: true, outAmount: "12345"}
}

func TestEvaluateSafeToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"is_honeypot":false,"buy_tax_pct":0.02,"sell_tax_pct":0.02,"marketcap_usd":10000}`))
	}))
	defer srv.Close()

	p := NewProbe(srv.URL, time.Minute, 0.15, 0.15, 50000, liquidQuotes(), jupiter.SOLMint)
	report := p.Evaluate(context.Background(), "mintA")

	if !report.Safe {
		t.Errorf("Evaluate = %+v, want Safe=true", report)
	}
}

func TestEvaluateHoneypotRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"is_honeypot":true}`))
	}))
	defer srv.Close()

	p := NewProbe(srv.URL, time.Minute, 0.15, 0.15, 50000, liquidQuotes(), jupiter.SOLMint)
	report := p.Evaluate(context.Background(), "mintA")

	if report.Safe {
		t.Errorf("Evaluate = %+v, want Safe=false for honeypot", report)
	}
}

func TestEvaluateAntiBotRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"is_honeypot":false,"anti_bot":true}`))
	}))
	defer srv.Close()

	p := NewProbe(srv.URL, time.Minute, 0.15, 0.15, 50000, liquidQuotes(), jupiter.SOLMint)
	report := p.Evaluate(context.Background(), "mintA")

	if report.Safe {
		t.Errorf("Evaluate = %+v, want Safe=false for anti-bot", report)
	}
}

func TestEvaluateNoForwardLiquidityRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"is_honeypot":false}`))
	}))
	defer srv.Close()

	p := NewProbe(srv.URL, time.Minute, 0.15, 0.15, 50000, &stubQuotes{routeExists: false}, jupiter.SOLMint)
	report := p.Evaluate(context.Background(), "mintA")

	if report.Safe {
		t.Errorf("Evaluate = %+v, want Safe=false for no route", report)
	}
	if report.HasLiquidity {
		t.Error("HasLiquidity = true, want false when quote source has no route")
	}
}

func TestEvaluateZeroOutAmountRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"is_honeypot":false}`))
	}))
	defer srv.Close()

	p := NewProbe(srv.URL, time.Minute, 0.15, 0.15, 50000, &stubQuotes{routeExists: true, outAmount: "0"}, jupiter.SOLMint)
	report := p.Evaluate(context.Background(), "mintA")

	if report.Safe {
		t.Errorf("Evaluate = %+v, want Safe=false for zero out_amount", report)
	}
	if report.HasLiquidity {
		t.Error("HasLiquidity = true, want false when out_amount is zero")
	}
}

func TestEvaluateOracleUnreachableDefaultsToReject(t *testing.T) {
	p := NewProbe("http://127.0.0.1:1", 10*time.Millisecond, 0.15, 0.15, 50000, liquidQuotes(), jupiter.SOLMint)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report := p.Evaluate(ctx, "mintA")
	if report.Safe {
		t.Errorf("Evaluate with unreachable oracle = %+v, want Safe=false", report)
	}
	if report.Reason == "" {
		t.Error("Evaluate with unreachable oracle returned empty Reason")
	}
}

func TestEvaluateCachesWithinTTL(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"is_honeypot":false,"buy_tax_pct":0.01,"sell_tax_pct":0.01,"marketcap_usd":1000}`))
	}))
	defer srv.Close()

	p := NewProbe(srv.URL, time.Minute, 0.15, 0.15, 50000, liquidQuotes(), jupiter.SOLMint)
	p.Evaluate(context.Background(), "mintA")
	p.Evaluate(context.Background(), "mintA")

	if calls != 1 {
		t.Errorf("oracle called %d times, want 1 (second call should hit cache)", calls)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"is_honeypot":false,"buy_tax_pct":0.01,"sell_tax_pct":0.01,"marketcap_usd":1000}`))
	}))
	defer srv.Close()

	p := NewProbe(srv.URL, time.Minute, 0.15, 0.15, 50000, liquidQuotes(), jupiter.SOLMint)
	p.Evaluate(context.Background(), "mintA")
	p.Invalidate("mintA")
	p.Evaluate(context.Background(), "mintA")

	if calls != 2 {
		t.Errorf("oracle called %d times after Invalidate, want 2", calls)
	}
}
