package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotesync/internal/model"
)

func TestCandidateAlert(t *testing.T) {
	a := CandidateAlert([]model.Candidate{
		{Ticker: "AAPL", Trend: model.Bull, SlowStoch: 31.2, ADX: 27.5, Close: 190, Passed: true},
		{Ticker: "XOM", Trend: model.Bear, SlowStoch: 71, ADX: 24, Close: 110, Passed: true},
		{Ticker: "IBM", Trend: model.Bull, SlowStoch: 55, ADX: 12, Close: 150},
	})
	assert.Equal(t, "Trend candidates: 2 bull, 1 bear (2 of 3 passed filters)", a.Title)
	assert.Contains(t, a.Message, "AAPL bull stoch=31.2 adx=27.5 close=190.00")
	assert.Len(t, a.Candidates, 3)

	empty := CandidateAlert(nil)
	assert.Equal(t, "Trend candidates: 0 bull, 0 bear", empty.Title)
	assert.Equal(t, "no tickers matched", empty.Message)
}

func TestWebhookNotifier_PostsCandidates(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	alert := CandidateAlert([]model.Candidate{{Ticker: "AAPL", Trend: model.Bull, Passed: true}})
	require.NoError(t, NewWebhookNotifier(srv.URL).Send(context.Background(), alert))

	assert.Equal(t, "INFO", got["level"])
	cands := got["candidates"].([]any)
	require.Len(t, cands, 1)
	assert.Equal(t, "bull", cands[0].(map[string]any)["trend"])
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"})
	assert.ErrorContains(t, err, "unexpected status 500")
}

func TestTelegramNotifier_EscapesAndTruncates(t *testing.T) {
	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		text = body["text"].(string)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiURL = srv.URL
	long := strings.Repeat("a", maxTelegramText+100)
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertWarning, Title: "x.y", Message: long}))

	assert.Contains(t, text, `x\.y`)
	assert.Less(t, len(text), maxTelegramText+50)
}

func TestTruncateText_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncateText("short", 10))

	// "₹" is three bytes; a cut at 4 bytes lands inside the second one.
	got := truncateText("₹₹₹", 4)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "₹\n...", got)
}

func TestTelegramNotifier_MultiByteMessageStaysValid(t *testing.T) {
	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		text = body["text"].(string)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiURL = srv.URL
	// One ASCII byte shifts every three-byte rune off the cut boundary.
	long := "x" + strings.Repeat("₹", maxTelegramText)
	require.NoError(t, n.Send(context.Background(), Alert{Title: "INR", Message: long}))

	assert.True(t, utf8.ValidString(text))
	assert.Contains(t, text, "₹")
}

type failing struct{ err error }

func (f failing) Send(context.Context, Alert) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := Multi{NewLogNotifier(), failing{boom}, NewLogNotifier()}
	assert.ErrorIs(t, m.Send(context.Background(), Alert{}), boom)
	assert.NoError(t, Multi{NewLogNotifier()}.Send(context.Background(), Alert{}))
}
