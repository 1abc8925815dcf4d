package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func postGenerate(t *testing.T, baseURL, tenant string) string {
	t.Helper()
	b, err := json.Marshal(generateBody())
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/plans/generate", bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", tenant)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out outcomeBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Plan.ID
}

// readSSE returns the next event name and data line.
func readSSE(t *testing.T, rd *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			return event, data
		}
	}
}

func TestPlanEventsStream(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()
	seedCatalog(t, s.Routes(), "t1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/plans/events/stream", nil)
	require.NoError(t, err)
	req.Header.Set("X-Tenant-Id", "t1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	event, data := readSSE(t, rd)
	require.Equal(t, "heartbeat", event)
	require.Contains(t, data, `"tenantId":"t1"`)

	// the heartbeat is written after subscribing, so this event cannot be missed
	planID := postGenerate(t, ts.URL, "t1")
	event, data = readSSE(t, rd)
	require.Equal(t, "plan.generated", event)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &payload))
	require.Equal(t, planID, payload["planId"])
}

func TestPlanEventsWebSocket(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()
	seedCatalog(t, s.Routes(), "t1")

	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t1")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/plans/events/ws", hdr)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ack PlanEvent
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, "connection_ack", ack.Type)

	// another tenant's plan must not reach this listener
	seedCatalog(t, s.Routes(), "t2")
	postGenerate(t, ts.URL, "t2")
	planID := postGenerate(t, ts.URL, "t1")

	var evt PlanEvent
	require.NoError(t, conn.ReadJSON(&evt))
	require.Equal(t, "plan.generated", evt.Type)
	require.Equal(t, planID, evt.Data["planId"])
	require.Equal(t, "q1", evt.Data["name"])
}
