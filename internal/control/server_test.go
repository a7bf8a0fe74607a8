package control

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/nanonet/nanonet/internal/engine"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	eng := engine.New(engine.Options{
		Logger: discardLogger(),
		Clock:  clockwork.NewFakeClock(),
	})
	return New(discardLogger(), eng), eng
}

func validConfig() engine.Config {
	return engine.Config{
		Enabled:      true,
		TargetIP:     netip.MustParseAddr("10.0.0.1"),
		TargetPort:   8080,
		Protocol:     engine.ProtocolUDP,
		ResponseIP:   netip.MustParseAddr("10.0.0.1"),
		ResponsePort: 9999,
	}
}

// Setting a valid config publishes it; fetching returns the same view.
func TestControl_SetGetConfig(t *testing.T) {
	t.Parallel()
	srv, eng := newTestServer(t)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	body := `{"enabled":true,"target_ip":"10.0.0.1","target_port":8080,"protocol":17,` +
		`"response_ip":"10.0.0.1","response_port":9999,"seq_num":0,"app_logic_type":0,` +
		`"multicast":false}`
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/config", strings.NewReader(body))
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.True(t, eng.Config().Enabled)
	require.Equal(t, "10.0.0.1", eng.Config().TargetIP.String())

	get, err := ts.Client().Get(ts.URL + "/config")
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	b, err := io.ReadAll(get.Body)
	require.NoError(t, err)
	require.Contains(t, string(b), `"target_port":8080`)
}

// Invalid configurations are rejected with an unprocessable status and
// do not disturb the active config.
func TestControl_SetConfigInvalid(t *testing.T) {
	t.Parallel()
	srv, eng := newTestServer(t)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	body := `{"enabled":true,"target_ip":"10.0.0.1","target_port":0,"protocol":17,` +
		`"response_ip":"10.0.0.1","response_port":9999}`
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/config", strings.NewReader(body))
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.False(t, eng.Config().Enabled)
}

// Stats, reset and flush round-trip over the API.
func TestControl_StatsResetFlush(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(b), `"packets_processed":0`)

	reset, err := ts.Client().Post(ts.URL+"/stats/reset", "", nil)
	require.NoError(t, err)
	reset.Body.Close()
	require.Equal(t, http.StatusOK, reset.StatusCode)

	flush, err := ts.Client().Post(ts.URL+"/connections/flush", "", nil)
	require.NoError(t, err)
	defer flush.Body.Close()
	require.Equal(t, http.StatusOK, flush.StatusCode)
	fb, err := io.ReadAll(flush.Body)
	require.NoError(t, err)
	require.Contains(t, string(fb), `"flushed":0`)
}

// The status surface prints configuration and every stats field.
func TestControl_StatusSurface(t *testing.T) {
	t.Parallel()
	srv, eng := newTestServer(t)
	require.NoError(t, eng.SetConfig(validConfig()))
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(b)
	require.Contains(t, out, "Enabled: Yes")
	require.Contains(t, out, "Target IP: 10.0.0.1")
	require.Contains(t, out, "Target Port: 8080")
	require.Contains(t, out, "Protocol: udp")
	require.Contains(t, out, "Multicast: No")
	require.Contains(t, out, "Packets Processed: 0")
	require.Contains(t, out, "Min Process Time: -")
}

// The debug surface prints the counters and the last error slot.
func TestControl_DebugSurface(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/debug")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(b), "Frames Seen: 0")
	require.Contains(t, string(b), "Last Error:")
}

// The client speaks to a real unix-socket server end to end.
func TestControl_ClientOverUnixSocket(t *testing.T) {
	t.Parallel()
	eng := engine.New(engine.Options{
		Logger: discardLogger(),
		Clock:  clockwork.NewFakeClock(),
	})
	sock := filepath.Join(t.TempDir(), "nanonet.sock")
	srv := New(discardLogger(), eng, WithSockFile(sock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	c := NewClient(sock)
	require.Eventually(t, func() bool {
		_, err := c.GetConfig(ctx)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.SetConfig(ctx, validConfig()))
	cfg, err := c.GetConfig(ctx)
	require.NoError(t, err)
	require.True(t, cfg.Enabled)

	st, err := c.GetStats(ctx)
	require.NoError(t, err)
	require.Zero(t, st.PacketsProcessed)

	require.NoError(t, c.ResetStats(ctx))

	n, err := c.FlushConnections(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	status, err := c.Status(ctx)
	require.NoError(t, err)
	require.Contains(t, status, "Enabled: Yes")

	cancel()
	require.NoError(t, <-done)
}
