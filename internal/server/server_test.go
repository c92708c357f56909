package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/marmot/internal/config"
	"github.com/adred-codev/marmot/internal/redisstore/redistest"
	"github.com/adred-codev/marmot/internal/server"
)

// newEphemeralAddr picks a free loopback port by binding then immediately
// releasing it; Lifecycle.Start rebinds the same address a moment later.
func newEphemeralAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	addr := l.Addr().String()
	if err := l.Close(); err != nil {
		return "", err
	}
	return addr, nil
}

func newTestEnv(t *testing.T, redisAddr string) *config.Env {
	t.Helper()
	env := &config.Env{
		Addr:                "127.0.0.1:0",
		RedisURL:            redisAddr,
		RedisMaxConnections: 10,
		RedisDialTimeout:    time.Second,
		RedisCommandTimeout: time.Second,
		TrimFreq:            20 * time.Millisecond,
		ReadBlock:           50 * time.Millisecond,
		PingInterval:        20 * time.Millisecond,
		MaxConnections:      100,
		WhistleRateBurst:    100,
		WhistleRatePerSec:   100,
		CPURejectThreshold:  95,
		CPUSampleInterval:   50 * time.Millisecond,
		MetricsInterval:     50 * time.Millisecond,
		LogLevel:            "info",
		LogFormat:           "json",
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("validate env: %v", err)
	}
	return env
}

func TestLifecycleStartServesHealthzThenShutsDownCleanly(t *testing.T) {
	redisSrv, err := redistest.Start()
	if err != nil {
		t.Fatalf("redistest.Start: %v", err)
	}
	defer redisSrv.Close()

	// Listen on an ephemeral port first so we know the address to dial
	// after Start binds its own listener on the same address.
	probe, err := newEphemeralAddr()
	if err != nil {
		t.Fatalf("pick ephemeral addr: %v", err)
	}

	env := newTestEnv(t, redisSrv.Addr())
	env.Addr = probe

	lc, err := server.New(env, zerolog.Nop(), "")
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	if err := lc.Start(); err != nil {
		t.Fatalf("lc.Start: %v", err)
	}

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + probe + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode healthz body: %v", err)
	}

	// Let the trim loop and CPU sampler each run at least once before
	// tearing down, to exercise their cancellation paths under load.
	time.Sleep(80 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lc.Shutdown(ctx); err != nil {
		t.Fatalf("lc.Shutdown: %v", err)
	}

	if _, err := http.Get("http://" + probe + "/healthz"); err == nil {
		t.Fatal("expected connection error after shutdown, got none")
	}
}
