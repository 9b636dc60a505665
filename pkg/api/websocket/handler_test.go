package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/chcount/internal/application/sessions"
	"github.com/aescanero/chcount/pkg/adapters/metrics/noop"
	"github.com/aescanero/chcount/pkg/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*sessions.Registry, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := sessions.NewRegistry(noop.NewCollector(), zap.NewNop())
	handler := NewHandler(registry, &Config{
		SendBuffer:   4,
		WriteTimeout: time.Second,
	}, zap.NewNop())

	router := gin.New()
	router.GET("/", handler.HandleSession)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return registry, "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg protocol.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandler_AnnouncesSessionID(t *testing.T) {
	registry, url := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readMessage(t, conn)
	require.Equal(t, protocol.TypeID, msg.Type)

	var id string
	require.NoError(t, json.Unmarshal(msg.Data, &id))
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	assert.True(t, registry.Contains(id))

	// results are pushed through the registry
	result, err := protocol.NewResultMessage("r1", 9)
	require.NoError(t, err)
	require.NoError(t, registry.Send(id, result))

	msg = readMessage(t, conn)
	assert.Equal(t, protocol.TypeResult, msg.Type)
	assert.JSONEq(t, `{"request_id":"r1","result":9}`, string(msg.Data))
}

func TestHandler_LeavesOnDisconnect(t *testing.T) {
	registry, url := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	readMessage(t, conn)
	assert.Equal(t, 1, registry.Count())

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return registry.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_DistinctSessionIDs(t *testing.T) {
	registry, url := newTestServer(t)

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()

		var id string
		require.NoError(t, json.Unmarshal(readMessage(t, conn).Data, &id))
		ids[id] = true
	}

	assert.Len(t, ids, 3)
	assert.Equal(t, 3, registry.Count())
}

func TestSession_SendAfterClose(t *testing.T) {
	registry, url := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var id string
	require.NoError(t, json.Unmarshal(readMessage(t, conn).Data, &id))
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return registry.Send(id, []byte("x")) != nil
	}, 2*time.Second, 10*time.Millisecond)
}
