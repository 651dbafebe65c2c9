package commands_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Universal-Basic-Compute/serenissima-api/cmd/serenissima-proxy/commands"
	"github.com/Universal-Basic-Compute/serenissima-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	cli := commands.New()
	cli.SetArgs(args)
	cli.SetOutput(&out)
	err := cli.Execute(ctx)
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(context.Background(), "version")
	require.NoError(t, err)
	assert.Equal(t, commands.Version+"\n", out)
}

func TestConfig_PrintsEffectiveConfig(t *testing.T) {
	t.Setenv("SERENISSIMA_BACKEND_URL", "https://backend.serenissima.ai")
	t.Setenv("SERENISSIMA_REDIS_PASSWORD", "hunter2")

	path := filepath.Join(t.TempDir(), "proxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9999\"\n"), 0o600))

	out, err := execute(context.Background(), "config", "--config", path)
	require.NoError(t, err)

	assert.Contains(t, out, ":9999")
	assert.Contains(t, out, "backend_url: https://backend.serenissima.ai")
	assert.Contains(t, out, "freshness_window: 5m0s")
	assert.NotContains(t, out, "hunter2")
}

func TestConfig_Invalid(t *testing.T) {
	t.Setenv("SERENISSIMA_BACKEND_URL", "")

	_, err := execute(context.Background(), "config")
	assert.ErrorContains(t, err, "backend_url is required")
}

func TestServe_GracefulShutdown(t *testing.T) {
	backend := testutil.NewMockBackend()
	defer backend.Close()
	t.Setenv("SERENISSIMA_BACKEND_URL", backend.URL())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	out, err := execute(ctx, "serve", "--listen", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, out, "Serenissima proxy started")
	assert.Contains(t, out, "Server stopped")
}

func TestServe_ListenError(t *testing.T) {
	t.Setenv("SERENISSIMA_BACKEND_URL", "http://localhost:3000")

	_, err := execute(context.Background(), "serve", "--listen", "not-an-address")
	assert.ErrorContains(t, err, "listen on not-an-address")
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(context.Background(), "migrate")
	assert.Error(t, err)
}
