package webhook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

func TestAuditHub_DropsForSlowClients(t *testing.T) {
	hub := NewAuditHub()
	ch := hub.Subscribe()
	for i := 0; i < streamBuffer+5; i++ {
		hub.Publish(types.AuditEntry{Event: "x"})
	}
	assert.Len(t, ch, streamBuffer)
	assert.Equal(t, uint64(5), hub.dropped)

	hub.Unsubscribe(ch)
	assert.Zero(t, hub.Clients())
	hub.Unsubscribe(ch)
}

func TestStream_DeliversAuditEntries(t *testing.T) {
	ts := newTestServer(t, Config{Token: "secret"})
	hub := NewAuditHub()
	ts.store.SetAuditHook(hub.Publish)
	ts.srv.SetAuditHub(hub)

	httpSrv := httptest.NewServer(ts.srv.Router())
	defer httpSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/stream?token=secret"

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpSrv.URL, "http")+"/api/stream", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	req, err := http.NewRequest(http.MethodPost, httpSrv.URL+"/webhook", strings.NewReader(buyAlert))
	require.NoError(t, err)
	req.Header.Set(tokenHeader, "secret")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var events []string
	for len(events) < 2 {
		var e types.AuditEntry
		require.NoError(t, conn.ReadJSON(&e))
		events = append(events, e.Event)
	}
	assert.Equal(t, []string{"received", "validated"}, events)
}
