package admin

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mocktide/internal/report"
)

func dialStream(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/report/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStream_PushesRecordedSuites(t *testing.T) {
	collector := report.NewCollector("")
	t.Cleanup(func() { collector.Close() })

	s := NewServer(new(MockTarget), collector, Options{})
	conn := dialStream(t, s)

	b := report.NewSuiteBuilder("hello", "conn-1", "")
	b.Success("msg1", 0)
	require.NoError(t, collector.Record(b.Build()))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got report.SuiteResult
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "hello", got.Name)
	assert.Len(t, got.Cases, 1)
}

func TestStream_ClosesWithCollector(t *testing.T) {
	collector := report.NewCollector("")
	s := NewServer(new(MockTarget), collector, Options{})
	conn := dialStream(t, s)

	require.NoError(t, collector.Close())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
