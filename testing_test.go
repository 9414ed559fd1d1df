package blockctl

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aperture-controls/blockctl/ctrl"
	"github.com/aperture-controls/blockctl/internal/testserver"
)

// startController runs a scripted control server and returns a Config
// pointing at it.
func startController(t testing.TB, handler testserver.Handler) Config {
	t.Helper()
	srv, err := testserver.NewController(handler)
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	t.Cleanup(srv.Close)

	cfg := DefaultConfig("127.0.0.1")
	cfg.ControlPort = srv.Port()
	cfg.ConnectTimeout = time.Second
	cfg.ExchangeTimeout = 2 * time.Second
	return cfg
}

// dialTestControl connects to a scripted control server.
func dialTestControl(t testing.TB, handler testserver.Handler) (*ControlConnection, Config) {
	t.Helper()
	cfg := startController(t, handler)

	conn, err := DialControl(context.Background(), cfg)
	if err != nil {
		t.Fatalf("DialControl() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, cfg
}

// scriptExchanger is an in-memory Exchanger for command-layer tests,
// answering by the command's first line and recording every request.
type scriptExchanger struct {
	mu        sync.Mutex
	responses map[string]*ctrl.Response
	requests  []string
}

func newScriptExchanger(responses map[string]*ctrl.Response) *scriptExchanger {
	return &scriptExchanger{responses: responses}
}

func (s *scriptExchanger) Exchange(_ context.Context, req *ctrl.Request) (*ctrl.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, strings.Join(req.Lines, "\n"))

	if resp, ok := s.responses[req.Lines[0]]; ok {
		return resp, nil
	}
	return &ctrl.Response{Kind: ctrl.KindErr, Message: "No such field"}, nil
}

func (s *scriptExchanger) sentRequests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func okResp() *ctrl.Response {
	return &ctrl.Response{Kind: ctrl.KindOK}
}

func valueResp(v string) *ctrl.Response {
	return &ctrl.Response{Kind: ctrl.KindValue, Value: v}
}

func multiResp(lines ...string) *ctrl.Response {
	if lines == nil {
		lines = []string{}
	}
	return &ctrl.Response{Kind: ctrl.KindMulti, Lines: lines}
}

func errResp(msg string) *ctrl.Response {
	return &ctrl.Response{Kind: ctrl.KindErr, Message: msg}
}
