package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotesync/internal/markethours"
	"quotesync/internal/session"
)

// fakeGateway answers every historical_request with the frames returned by
// reply, after greeting the client with next_valid_id.
func fakeGateway(t *testing.T, reply func(req map[string]any) []string) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"next_valid_id","id":100}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"managed_accounts","message":"DU1"}`))
		for {
			var req map[string]any
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			for _, f := range reply(req) {
				conn.WriteMessage(websocket.TextMessage, []byte(f))
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func drain(t *testing.T, s session.Session, n int) []session.Event {
	t.Helper()
	var out []session.Event
	deadline := time.Now().Add(2 * time.Second)
	for len(out) < n && time.Now().Before(deadline) {
		ev, ok, err := s.Poll(context.Background())
		require.NoError(t, err)
		if !ok {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		out = append(out, ev)
	}
	require.Len(t, out, n)
	return out
}

func TestGateway_HistoricalRoundTrip(t *testing.T) {
	got := make(chan map[string]any, 1)
	url := fakeGateway(t, func(req map[string]any) []string {
		got <- req
		return []string{
			`{"type":"historical_data","req_id":100,"bar":{"date":"20260305","open":10,"high":11,"low":9,"close":10.5,"wap":10.2,"volume":1000,"count":42}}`,
			`{"type":"historical_data_end","req_id":100,"start":"20260303 16:00:00","end":"20260305 16:00:00"}`,
		}
	})

	s, err := Dial(context.Background(), Config{URL: url, Market: markethours.US})
	require.NoError(t, err)
	defer s.Close()

	events := drain(t, s, 2)
	assert.Equal(t, session.SessionReady{NextID: 100}, events[0])
	assert.Equal(t, session.Informational{Kind: "managed_accounts", Message: "DU1"}, events[1])

	asOf := time.Date(2026, 3, 5, 22, 0, 0, 0, time.UTC)
	require.NoError(t, s.Submit(context.Background(), session.HistoricalRequest{
		RequestID: 100, Symbol: "AAPL", ExchangeHint: "NASDAQ", AsOf: asOf, SpanDays: 3,
	}))

	select {
	case req := <-got:
		assert.Equal(t, "historical_request", req["type"])
		assert.Equal(t, "AAPL", req["symbol"])
		assert.Equal(t, "NASDAQ", req["primary_exchange"])
		assert.Equal(t, "3 D", req["duration"])
		assert.Equal(t, "1 day", req["bar_size"])
		assert.Equal(t, "20260305 22:00:00 UTC", req["end_time"])
	case <-time.After(2 * time.Second):
		t.Fatal("request frame never arrived")
	}

	events = drain(t, s, 2)
	bar, ok := events[0].(session.Bar)
	require.True(t, ok)
	assert.Equal(t, int64(100), bar.RequestID)
	// 16:00 New York in March before DST is 21:00 UTC.
	assert.Equal(t, time.Date(2026, 3, 5, 21, 0, 0, 0, time.UTC), bar.Quote.Timestamp)
	assert.Equal(t, 10.5, bar.Quote.Close)
	assert.Equal(t, 42, bar.Quote.Count)
	assert.Equal(t, int64(1000), bar.Quote.Volume)

	end, ok := events[1].(session.EndOfHistory)
	require.True(t, ok)
	assert.Equal(t, int64(100), end.RequestID)
}

func TestDecode(t *testing.T) {
	cases := []struct {
		frame string
		want  session.Event
	}{
		{`{"type":"error","req_id":7,"code":162,"message":"pacing violation"}`,
			session.RequestError{RequestID: 7, Code: 162, Message: "pacing violation"}},
		{`{"type":"error","req_id":-1,"code":2104,"message":"farm ok"}`,
			session.Informational{Kind: "notice", Message: "2104: farm ok"}},
		{`{"type":"news_bulletin","message":"x"}`,
			session.Informational{Kind: "news_bulletin", Message: "x"}},
		{`{"type":"tick_price","req_id":1}`,
			session.Unsupported{Kind: "tick_price"}},
	}
	for _, tc := range cases {
		ev, err := decode([]byte(tc.frame), markethours.US)
		require.NoError(t, err, tc.frame)
		assert.Equal(t, tc.want, ev, tc.frame)
	}

	_, err := decode([]byte(`{"type":"historical_data","req_id":1}`), markethours.US)
	assert.Error(t, err)
	_, err = decode([]byte(`not json`), markethours.US)
	assert.Error(t, err)
}

func TestGateway_ServerDropIsTransportError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	s, err := Dial(context.Background(), Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	require.NoError(t, err)
	defer s.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, ok, err := s.Poll(context.Background())
		require.False(t, ok)
		if err != nil {
			assert.ErrorIs(t, err, session.ErrTransport)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected a transport error")
}

func TestDial_Unreachable(t *testing.T) {
	_, err := Dial(context.Background(), Config{URL: "ws://127.0.0.1:1/ws"})
	assert.ErrorIs(t, err, session.ErrTransport)
}
