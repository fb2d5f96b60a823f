package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	mc "github.com/linnemanlabs/medic/internal/cfg"
	"github.com/linnemanlabs/medic/internal/llm/claude"
	"github.com/linnemanlabs/medic/internal/llm/ollama"
)

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error when NOTIFY_SOCKET is empty")
	}
	if !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Errorf("error = %q, want substring %q", err, "NOTIFY_SOCKET not set")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "dial failed") {
		t.Errorf("error = %q, want substring %q", err, "dial failed")
	}
}

func TestNotifySystemd_Success(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	// Create a real unixgram listener.
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}

	got := string(buf[:n])
	if got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

func TestNewProvider_Claude(t *testing.T) {
	t.Parallel()

	p, probes := newProvider(mc.Config{
		DecisionProvider: mc.ProviderClaude,
		ClaudeAPIKey:     "sk-test",
		ClaudeModel:      "claude-test",
	})
	if _, ok := p.(*claude.Client); !ok {
		t.Fatalf("provider = %T, want *claude.Client", p)
	}
	if len(probes) != 0 {
		t.Errorf("probes = %d, want 0", len(probes))
	}
}

func TestNewProvider_OllamaProbe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	p, probes := newProvider(mc.Config{
		DecisionProvider: mc.ProviderOllama,
		OllamaURL:        srv.URL,
		OllamaModel:      "llama3.1",
	})
	if _, ok := p.(*ollama.Client); !ok {
		t.Fatalf("provider = %T, want *ollama.Client", p)
	}
	if len(probes) != 1 || probes[0].Name != "ollama" {
		t.Fatalf("probes = %+v, want single ollama probe", probes)
	}

	details, err := probes[0].Check(context.Background())
	if err != nil {
		t.Fatalf("Check() = %v", err)
	}
	if details["model"] != "llama3.1" || details["url"] != srv.URL {
		t.Errorf("details = %v", details)
	}

	srv.Close()
	if _, err := probes[0].Check(context.Background()); err == nil {
		t.Error("expected error once ollama is unreachable")
	}
}
