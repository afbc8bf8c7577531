package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-forwardtest/internal/storage/memory"
)

// floodServer upgrades every request and writes the same closed kline in a
// tight loop until the peer goes away, so the stream's reader goroutine is
// almost always holding an undelivered message.
func floodServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	payload := []byte(`{"data":{"s":"BTCUSDT","k":{"t":60000,"o":"1","h":"2","l":"0.5","c":"1.5","v":"10","x":true}}}`)

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}))
}

func TestStream_StoresClosedCandlesAndStopsCleanly(t *testing.T) {
	srv := floodServer(t)
	defer srv.Close()

	store := memory.NewCandleStore()
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream := NewStream(endpoint, []string{"BTCUSDT"}, store, nil)

	goroutinesBefore := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		stream.Run(ctx)
		close(runDone)
	}()

	require.Eventually(t, func() bool {
		got, err := store.GetRange(context.Background(), "BTCUSDT", 0, time.Now().UnixMilli(), 10)
		return err == nil && len(got) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	srv.Close()

	// The per-connection reader must not outlive the run even when it was
	// parked mid-delivery when the context was cancelled.
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= goroutinesBefore
	}, 5*time.Second, 20*time.Millisecond)
}
