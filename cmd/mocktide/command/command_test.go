package command

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mocktide/internal/config"
	"mocktide/internal/mapping"
)

const helloMapping = `
name: hello
messages:
    msg1: '\x48\x65\x6C\x6C\x6F'
    msg2: 'World'
actions:
    - message: msg1
      action: Recv
    - message: msg2
      action: Send
      wait: 0.01
    - action: Shutdown
`

func writeMapping(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hello.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Host:              "127.0.0.1",
		Port:              0,
		MaxConnections:    2,
		ReportPath:        filepath.Join(t.TempDir(), "result.xml"),
		LogLevel:          "debug",
		LogFormat:         "text",
		AcceptBackoffUnit: time.Millisecond,
		AcceptBackoffMax:  8 * time.Millisecond,
		RecvFailurePolicy: "continue",
		ShutdownGrace:     time.Second,
		AdminRateLimit:    20,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServe(t *testing.T, ctx context.Context, cfg *config.Config, script *mapping.Script) (net.Addr, <-chan error) {
	t.Helper()
	bound := make(chan net.Addr, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, serveOptions{
			cfg:      cfg,
			script:   script,
			logger:   discardLogger(),
			onListen: func(addr net.Addr) { bound <- addr },
		})
	}()

	select {
	case addr := <-bound:
		return addr, errCh
	case err := <-errCh:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener was never bound")
	}
	return nil, nil
}

func TestServe_ScriptedSessionWritesReport(t *testing.T) {
	script, err := mapping.Load(writeMapping(t, helloMapping))
	require.NoError(t, err)
	cfg := testConfig(t)

	addr, errCh := startServe(t, context.Background(), cfg, script)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("Hello"))
	require.NoError(t, err)
	reply := make([]byte, 5)
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	assert.Equal(t, "World", string(reply))

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scripted shutdown did not stop serve")
	}

	data, err := os.ReadFile(cfg.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `<testsuite id="0" name="hello"`)
	assert.Contains(t, string(data), `<testcase name="msg1" classname="hello"`)
}

func TestServe_ContextCancelWritesEmptyReport(t *testing.T) {
	script, err := mapping.Load(writeMapping(t, helloMapping))
	require.NoError(t, err)
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	_, errCh := startServe(t, ctx, cfg, script)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not stop serve")
	}

	data, err := os.ReadFile(cfg.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<testsuites>")
}

func TestServe_BindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig(t)
	cfg.Port = taken.Addr().(*net.TCPAddr).Port

	script, err := mapping.Load(writeMapping(t, helloMapping))
	require.NoError(t, err)

	err = serve(context.Background(), serveOptions{cfg: cfg, script: script, logger: discardLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind")
}

func TestValidateCommand(t *testing.T) {
	color.NoColor = true
	path := writeMapping(t, helloMapping)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"validate", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	text := out.String()
	assert.Contains(t, text, "mapping ok")
	assert.Contains(t, text, "suite:    hello")
	assert.Contains(t, text, "messages: 2")
	assert.Contains(t, text, "Recv(msg1) [5 bytes]")
	assert.Contains(t, text, "Send(msg2) [5 bytes] after 10ms")
	assert.Contains(t, text, "Shutdown")
}

func TestValidateCommand_InvalidMapping(t *testing.T) {
	path := writeMapping(t, "actions:\n    - message: nope\n      action: Recv\n")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"validate", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `message "nope" is not defined`)
}
