package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pingsantohq/stamp/internal/config"
	"github.com/pingsantohq/stamp/internal/health"
	"github.com/pingsantohq/stamp/internal/logging"
	"github.com/pingsantohq/stamp/internal/metrics"
)

// withConfigFile points STAMP_CONFIG at a file holding cfg.
func withConfigFile(t *testing.T, cfg config.Config) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stamp.yaml")
	if err := config.Write(path, cfg); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("STAMP_CONFIG", path)
	return path
}

func TestParseReflectorArgs(t *testing.T) {
	base := config.Default()
	base.Reflector.Port = 8862
	base.Reflector.RateLimitPPS = 50
	withConfigFile(t, base)

	cfg, err := parseReflectorArgs(context.Background(), []string{"-6", "-d", "--rate-limit", "10", "9000"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Reflector.Port != 9000 {
		t.Fatalf("expected positional port 9000 got %d", cfg.Reflector.Port)
	}
	if cfg.Reflector.Family != "ipv6" || !cfg.Log.Debug {
		t.Fatalf("expected ipv6 debug got %+v", cfg)
	}
	if cfg.Reflector.RateLimitPPS != 10 {
		t.Fatalf("expected flag to override rate limit got %v", cfg.Reflector.RateLimitPPS)
	}

	cfg, err = parseReflectorArgs(context.Background(), nil, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Reflector.Port != 8862 || cfg.Reflector.RateLimitPPS != 50 {
		t.Fatalf("expected file values without flags got %+v", cfg.Reflector)
	}
}

func TestParseReflectorArgsErrors(t *testing.T) {
	withConfigFile(t, config.Default())
	cases := [][]string{
		{"0"},
		{"70000"},
		{"abc"},
		{"862", "863"},
		{"-4", "-6"},
		{"--family", "ipx"},
	}
	for _, args := range cases {
		if _, err := parseReflectorArgs(context.Background(), args, io.Discard); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
	if _, err := parseReflectorArgs(context.Background(), []string{"-h"}, io.Discard); !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected flag.ErrHelp got %v", err)
	}
}

func TestParseSenderArgs(t *testing.T) {
	base := config.Default()
	base.Sender.Host = "192.0.2.10"
	base.Sender.Interval = 2 * time.Second
	path := withConfigFile(t, base)
	t.Setenv("STAMP_CONFIG", "")

	cfg, err := parseSenderArgs(context.Background(), []string{
		"--config", path, "-4", "--interval", "250ms", "--count", "5", "--output", "json", "198.51.100.1", "10862",
	}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s := cfg.Sender
	if s.Host != "198.51.100.1" || s.Port != 10862 || s.Family != "ipv4" {
		t.Fatalf("unexpected target %+v", s)
	}
	if s.Interval != 250*time.Millisecond || s.Count != 5 || s.Output != "json" {
		t.Fatalf("unexpected flags %+v", s)
	}
	if s.Timeout != 5*time.Second {
		t.Fatalf("expected default timeout got %s", s.Timeout)
	}

	cfg, err = parseSenderArgs(context.Background(), []string{"--config", path, "host.example"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Sender.Host != "host.example" || cfg.Sender.Port != 862 || cfg.Sender.Interval != 2*time.Second {
		t.Fatalf("unexpected config %+v", cfg.Sender)
	}

	if _, err := parseSenderArgs(context.Background(), []string{"--config", path, "--timeout", "0s"}, io.Discard); err == nil {
		t.Fatalf("expected zero timeout to be rejected")
	}
	if _, err := parseSenderArgs(context.Background(), []string{"--config", path, "a", "1", "b"}, io.Discard); err == nil {
		t.Fatalf("expected too many positional arguments to be rejected")
	}
}

func TestSenderStaleAfter(t *testing.T) {
	cfg := config.Default()
	if got := senderStaleAfter(cfg); got != 15*time.Second {
		t.Fatalf("expected 3x timeout got %s", got)
	}
	cfg.Metrics.StaleAfter = time.Minute
	if got := senderStaleAfter(cfg); got != time.Minute {
		t.Fatalf("expected configured window got %s", got)
	}
}

func TestRunConfigPrintsAndWrites(t *testing.T) {
	var out bytes.Buffer
	if err := runConfig(context.Background(), []string{"--defaults"}, &out); err != nil {
		t.Fatalf("run config: %v", err)
	}
	if !strings.Contains(out.String(), "port: 862") {
		t.Fatalf("expected yaml output got %q", out.String())
	}

	path := filepath.Join(t.TempDir(), "nested", "stamp.yaml")
	out.Reset()
	if err := runConfig(context.Background(), []string{"--defaults", "--write", path}, &out); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file: %v", err)
	}
	cfg, err := config.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Sender.Timeout != 5*time.Second {
		t.Fatalf("unexpected reloaded config %+v", cfg.Sender)
	}
}

func TestMonitoringRouter(t *testing.T) {
	store := metrics.NewStore()
	checker := health.NewChecker(store, time.Minute)
	srv := httptest.NewServer(newMonitoringRouter(store, checker))
	defer srv.Close()

	get := func(path string) int {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := get("/healthz"); code != http.StatusOK {
		t.Fatalf("expected healthz 200 got %d", code)
	}
	if code := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected readyz 503 before bind got %d", code)
	}
	checker.ObserveBind(time.Now().UTC(), nil)
	if code := get("/readyz"); code != http.StatusOK {
		t.Fatalf("expected readyz 200 after bind got %d", code)
	}
	if code := get("/metrics"); code != http.StatusOK {
		t.Fatalf("expected metrics 200 got %d", code)
	}
	resp, err := http.Post(srv.URL+"/healthz", "text/plain", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST got %d", resp.StatusCode)
	}
}

func TestRunEngineStopsMonitoringWhenEngineReturns(t *testing.T) {
	store := metrics.NewStore()
	done := make(chan error, 1)
	go func() {
		done <- runEngine(context.Background(), func(context.Context) error { return nil },
			"127.0.0.1:0", store, health.NewChecker(store, 0), logging.Discard())
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("monitoring server kept running after engine returned")
	}
}

func TestRunEnginePropagatesEngineError(t *testing.T) {
	boom := errors.New("boom")
	err := runEngine(context.Background(), func(context.Context) error { return boom }, "", nil, nil, logging.Discard())
	if !errors.Is(err, boom) {
		t.Fatalf("expected engine error got %v", err)
	}
}
