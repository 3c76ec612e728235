package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tradebotv1/internal/metrics"
	"tradebotv1/internal/model"
	"tradebotv1/internal/notification"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

var upgrader = websocket.Upgrader{}

// feedServer speaks the provider protocol: auth handshake, then hands
// the connection to the per-test handler.
func feedServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var auth request
		if err := ws.ReadJSON(&auth); err != nil || auth.Action != "auth" {
			t.Errorf("expected auth request, got %+v err=%v", auth, err)
			return
		}
		if auth.Params != "test-key" {
			ws.WriteMessage(websocket.TextMessage, []byte(`[{"ev":"status","status":"auth_failed","message":"bad key"}]`))
			return
		}
		ws.WriteMessage(websocket.TextMessage, []byte(`[{"ev":"status","status":"connected"}]`))
		ws.WriteMessage(websocket.TextMessage, []byte(`[{"ev":"status","status":"auth_success"}]`))

		handler(ws)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(url string, symbols []string) Config {
	return Config{
		Name:         "conn-0",
		URL:          url,
		APIKey:       "test-key",
		Symbols:      symbols,
		SubBatchSize: 100,
		SubDelay:     time.Millisecond,
		SubRetries:   2,
		PingInterval: time.Hour, // keepalive irrelevant for most tests
		AuthTimeout:  2 * time.Second,
		BackoffMin:   10 * time.Millisecond,
		BackoffMax:   80 * time.Millisecond,
	}
}

func newTestConn(cfg Config) *Conn {
	return NewConn(cfg, notification.NewLogNotifier(), metrics.New(prometheus.NewRegistry()))
}

func TestConn_StreamsBarsAfterHandshake(t *testing.T) {
	srv := feedServer(t, func(ws *websocket.Conn) {
		var sub request
		if err := ws.ReadJSON(&sub); err != nil {
			t.Errorf("subscribe read: %v", err)
			return
		}
		if sub.Action != "subscribe" || !strings.Contains(sub.Params, "A.AAPL") {
			t.Errorf("subscribe request = %+v", sub)
		}
		ws.WriteMessage(websocket.TextMessage,
			[]byte(`[{"ev":"A","sym":"AAPL","o":10,"h":11,"l":9.5,"c":10.5,"v":1200,"s":1772000000000}]`))
		// Hold the connection open until the client goes away.
		ws.ReadMessage()
	})
	defer srv.Close()

	conn := newTestConn(testConfig(wsURL(srv), []string{"AAPL", "MSFT"}))
	out := make(chan model.Bar, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		conn.Run(ctx, out)
		close(done)
	}()

	select {
	case bar := <-out:
		if bar.Symbol != "AAPL" || bar.Close != 10.5 || bar.Volume != 1200 {
			t.Errorf("bar = %+v", bar)
		}
		if bar.Kind != model.KindSecondBar {
			t.Errorf("kind = %v", bar.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no bar received")
	}
	if got := conn.State(); got != StateStreaming {
		t.Errorf("state = %v, want streaming", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if got := conn.State(); got != StateDisconnected {
		t.Errorf("state after shutdown = %v", got)
	}
}

func TestConn_AuthRejectedIsFatal(t *testing.T) {
	srv := feedServer(t, func(ws *websocket.Conn) {})
	defer srv.Close()

	cfg := testConfig(wsURL(srv), []string{"AAPL"})
	cfg.APIKey = "wrong-key"
	conn := newTestConn(cfg)

	out := make(chan model.Bar, 1)
	err := conn.Run(context.Background(), out)

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestConn_SubscribeBatchingAndPacing(t *testing.T) {
	var mu sync.Mutex
	var subs []request
	srv := feedServer(t, func(ws *websocket.Conn) {
		for i := 0; i < 3; i++ {
			var sub request
			if err := ws.ReadJSON(&sub); err != nil {
				return
			}
			mu.Lock()
			subs = append(subs, sub)
			mu.Unlock()
		}
		ws.WriteMessage(websocket.TextMessage,
			[]byte(`[{"ev":"A","sym":"S1","o":1,"h":1,"l":1,"c":1,"v":1,"s":1772000000000}]`))
		ws.ReadMessage()
	})
	defer srv.Close()

	cfg := testConfig(wsURL(srv), []string{"S1", "S2", "S3", "S4", "S5"})
	cfg.SubBatchSize = 2
	conn := newTestConn(cfg)

	out := make(chan model.Bar, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx, out)

	select {
	case <-out:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never started")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(subs) != 3 {
		t.Fatalf("got %d subscribe messages, want 3", len(subs))
	}
	var all []string
	for _, sub := range subs {
		parts := strings.Split(sub.Params, ",")
		if len(parts) > 2 {
			t.Errorf("batch exceeds size limit: %v", parts)
		}
		all = append(all, parts...)
	}
	want := []string{"A.S1", "A.S2", "A.S3", "A.S4", "A.S5"}
	if len(all) != len(want) {
		t.Fatalf("subscribed params = %v", all)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Errorf("params[%d] = %s, want %s", i, all[i], want[i])
		}
	}
}

func TestConn_DecodeFailureSkipsMessage(t *testing.T) {
	srv := feedServer(t, func(ws *websocket.Conn) {
		var sub request
		ws.ReadJSON(&sub)
		ws.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
		ws.WriteMessage(websocket.TextMessage,
			[]byte(`[{"ev":"A","sym":"TSLA","o":200,"h":201,"l":199,"c":200.5,"v":900,"s":1772000000000}]`))
		ws.ReadMessage()
	})
	defer srv.Close()

	conn := newTestConn(testConfig(wsURL(srv), []string{"TSLA"}))
	out := make(chan model.Bar, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx, out)

	select {
	case bar := <-out:
		if bar.Symbol != "TSLA" {
			t.Errorf("bar = %+v", bar)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not survive the bad message")
	}
}

func TestConn_ReconnectsUntilHealthy(t *testing.T) {
	var mu sync.Mutex
	var attempts []time.Time
	failures := 3

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, time.Now())
		n := len(attempts)
		mu.Unlock()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		if n <= failures {
			return // slam the door: transport error on the client
		}

		var auth request
		if err := ws.ReadJSON(&auth); err != nil {
			return
		}
		ws.WriteMessage(websocket.TextMessage, []byte(`[{"ev":"status","status":"auth_success"}]`))
		var sub request
		ws.ReadJSON(&sub)
		ws.WriteMessage(websocket.TextMessage,
			[]byte(`[{"ev":"A","sym":"AAPL","o":10,"h":10,"l":10,"c":10,"v":100,"s":1772000000000}]`))
		ws.ReadMessage()
	}))
	defer srv.Close()

	conn := newTestConn(testConfig(wsURL(srv), []string{"AAPL"}))
	out := make(chan model.Bar, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx, out)

	select {
	case <-out:
	case <-time.After(10 * time.Second):
		t.Fatal("connection never recovered")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != failures+1 {
		t.Fatalf("attempts = %d, want %d", len(attempts), failures+1)
	}
	// Backoff between failed attempts must not decrease.
	firstGap := attempts[2].Sub(attempts[1])
	lastGap := attempts[3].Sub(attempts[2])
	if lastGap < firstGap {
		t.Errorf("backoff decreased: %s then %s", firstGap, lastGap)
	}
}

func TestDecodeFrame(t *testing.T) {
	bars, statuses, err := decodeFrame([]byte(
		`[{"ev":"AM","sym":"NVDA","o":1,"h":2,"l":0.5,"c":1.5,"v":300,"s":1772000000000},` +
			`{"ev":"status","status":"success","message":"subscribed"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 1 || bars[0].Kind != model.KindMinuteBar || bars[0].Symbol != "NVDA" {
		t.Errorf("bars = %+v", bars)
	}
	if !bars[0].TS.Equal(time.UnixMilli(1772000000000).UTC()) {
		t.Errorf("ts = %v", bars[0].TS)
	}
	if len(statuses) != 1 || statuses[0].Status != "success" {
		t.Errorf("statuses = %+v", statuses)
	}

	if _, _, err := decodeFrame([]byte(`{{{`)); err == nil {
		t.Fatal("expected decode error")
	} else {
		var derr *DecodeError
		if !errors.As(err, &derr) {
			t.Errorf("error type = %T", err)
		}
	}

	// A bare status object still decodes.
	_, statuses, err = decodeFrame([]byte(`{"ev":"status","status":"connected"}`))
	if err != nil || len(statuses) != 1 {
		t.Errorf("bare object: statuses=%v err=%v", statuses, err)
	}
}

func TestConn_UnknownEventKindsIgnored(t *testing.T) {
	frame, _ := json.Marshal([]map[string]any{
		{"ev": "T", "sym": "AAPL", "p": 10.0},
		{"ev": "A", "sym": "AAPL", "o": 1.0, "h": 1.0, "l": 1.0, "c": 1.0, "v": 1.0, "s": int64(1772000000000)},
	})
	bars, _, err := decodeFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 1 {
		t.Fatalf("bars = %+v, want the trade event ignored", bars)
	}
}
