package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

var errOutOfRange = errors.New("param out of range")

type fakeEngine struct {
	started       bool
	stopped       bool
	liquidated    bool
	lastSetParam  string
	lastSetValue  float64
	setParamError error
	status        EngineStatus
}

func (f *fakeEngine) Start(mode EngineMode) { f.started = true }
func (f *fakeEngine) Stop()                 { f.stopped = true }
func (f *fakeEngine) LiquidateAll()         { f.liquidated = true }

func (f *fakeEngine) SetParam(name string, value float64) error {
	f.lastSetParam = name
	f.lastSetValue = value
	return f.setParamError
}

func (f *fakeEngine) Status() EngineStatus {
	return f.status
}

func TestHandleStart(t *testing.T) {
	eng := &fakeEngine{}
	s := NewServer("0.0.0.0", 0, eng)

	body, _ := json.Marshal(startRequest{Mode: "REAL"})
	req, _ := http.NewRequest("POST", "/control/start", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.app.Test(req, 1000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !eng.started {
		t.Error("expected engine.Start to be called")
	}
}

func TestHandleStop(t *testing.T) {
	eng := &fakeEngine{}
	s := NewServer("0.0.0.0", 0, eng)

	req, _ := http.NewRequest("POST", "/control/stop", nil)
	resp, err := s.app.Test(req, 1000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !eng.stopped {
		t.Error("expected engine.Stop to be called")
	}
}

func TestHandleLiquidateAll(t *testing.T) {
	eng := &fakeEngine{}
	s := NewServer("0.0.0.0", 0, eng)

	req, _ := http.NewRequest("POST", "/control/liquidate-all", nil)
	resp, err := s.app.Test(req, 1000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !eng.liquidated {
		t.Error("expected engine.LiquidateAll to be called")
	}
}

func TestHandleSetParamValid(t *testing.T) {
	eng := &fakeEngine{}
	s := NewServer("0.0.0.0", 0, eng)

	body, _ := json.Marshal(setParamRequest{Name: "buy_amount_native", Value: 0.3})
	req, _ := http.NewRequest("POST", "/control/param", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.app.Test(req, 1000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if eng.lastSetParam != "buy_amount_native" || eng.lastSetValue != 0.3 {
		t.Errorf("SetParam called with (%q, %v), want (buy_amount_native, 0.3)", eng.lastSetParam, eng.lastSetValue)
	}
}

func TestHandleSetParamRejected(t *testing.T) {
	eng := &fakeEngine{setParamError: errOutOfRange}
	s := NewServer("0.0.0.0", 0, eng)

	body, _ := json.Marshal(setParamRequest{Name: "sell_multiplier", Value: 9.0})
	req, _ := http.NewRequest("POST", "/control/param", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.app.Test(req, 1000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleStatus(t *testing.T) {
	eng := &fakeEngine{status: EngineStatus{Running: true, Mode: "SIM", OpenPositions: 2}}
	s := NewServer("0.0.0.0", 0, eng)

	req, _ := http.NewRequest("GET", "/status", nil)
	resp, err := s.app.Test(req, 1000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got EngineStatus
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.OpenPositions != 2 || got.Mode != "SIM" {
		t.Errorf("status = %+v, want OpenPositions=2 Mode=SIM", got)
	}
}
