package statusapi

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, info Provider) *http.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	t.Cleanup(func() { _ = ln.Close() })

	s := New("unused", info, zap.NewNop())
	go func() { _ = s.srv.Serve(ln) }()

	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}
}

func TestHealthz(t *testing.T) {
	client := newTestClient(t, func() Info { return Info{} })
	resp, err := client.Get("http://status/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestSessionInfo(t *testing.T) {
	client := newTestClient(t, func() Info {
		return Info{SessionID: "a1b2c3d4", Status: "ACTIVE", MoveCount: 7, LastSavedMoveIndex: 5}
	})
	resp, err := client.Get("http://status/session")
	if err != nil {
		t.Fatalf("GET /session: %v", err)
	}
	defer resp.Body.Close()
	var got Info
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SessionID != "a1b2c3d4" || got.Status != "ACTIVE" || got.MoveCount != 7 || got.LastSavedMoveIndex != 5 {
		t.Fatalf("unexpected info: %+v", got)
	}
}

func TestUnknownPath(t *testing.T) {
	client := newTestClient(t, func() Info { return Info{} })
	resp, err := client.Get("http://status/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fasthttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
