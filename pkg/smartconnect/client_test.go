package smartconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler func(route string, body map[string]string) (int, string)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		_ = json.Unmarshal(raw, &body)
		status, resp := handler(r.URL.Path, body)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "k", RootURL: srv.URL, ClientLocalIP: "10.0.0.1", ClientMAC: "aa:bb"})
}

func TestGenerateSession(t *testing.T) {
	var sawAuth string
	c := newTestServer(t, func(route string, body map[string]string) (int, string) {
		switch route {
		case routes["api.login"]:
			if body["totp"] != "123456" {
				return 200, `{"status":false,"message":"Invalid totp","errorcode":"AB1050","data":null}`
			}
			return 200, `{"status":true,"message":"SUCCESS","data":{"jwtToken":"jwt","refreshToken":"ref","feedToken":"feed"}}`
		}
		return 404, `{}`
	})

	err := c.GenerateSession(context.Background(), "C1", "pw", "000000")
	require.Error(t, err)
	assert.True(t, IsAPIError(err))

	require.NoError(t, c.GenerateSession(context.Background(), "C1", "pw", "123456"))
	assert.Equal(t, "jwt", c.AccessToken())
	assert.Equal(t, "feed", c.FeedToken())
	assert.Equal(t, "C1", c.UserID())
	sawAuth = c.requestHeaders().Get("Authorization")
	assert.Equal(t, "Bearer jwt", sawAuth)
}

func TestGetCandleData(t *testing.T) {
	var got map[string]string
	c := newTestServer(t, func(route string, body map[string]string) (int, string) {
		got = body
		return 200, `{"status":true,"message":"SUCCESS","data":[
			["2026-03-09T00:00:00+05:30", 100.5, 102, 99.25, 101, 12345],
			["2026-03-10T00:00:00+05:30", 101, 103.5, 100, 103, 2000]
		]}`
	})

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	candles, err := c.GetCandleData(context.Background(), CandleParams{
		Exchange: "NSE", SymbolToken: "3045", Interval: OneDay, From: from, To: to,
	})
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, "ONE_DAY", got["interval"])
	assert.Equal(t, "2026-03-01 05:30", got["fromdate"])
	assert.Equal(t, "2026-03-10 17:30", got["todate"])

	assert.Equal(t, 100.5, candles[0].Open)
	assert.Equal(t, 99.25, candles[0].Low)
	assert.Equal(t, int64(12345), candles[0].Volume)
	assert.Equal(t, 10, candles[1].Time.Day())
}

func TestGetCandleData_Errors(t *testing.T) {
	c := newTestServer(t, func(route string, body map[string]string) (int, string) {
		if body["symboltoken"] == "bad" {
			return 200, `{"status":true,"data":[["2026-03-09T00:00:00+05:30", 1, 2]]}`
		}
		if body["symboltoken"] == "down" {
			return 502, `<html>bad gateway</html>`
		}
		return 403, `{"status":false,"message":"Invalid Token","errorcode":"AG8001","error_type":"TokenException"}`
	})
	ctx := context.Background()

	_, err := c.GetCandleData(ctx, CandleParams{SymbolToken: "x"})
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "AG8001", apiErr.ErrorCode)
	assert.Equal(t, 403, apiErr.Status)

	_, err = c.GetCandleData(ctx, CandleParams{SymbolToken: "bad"})
	require.Error(t, err)
	assert.False(t, IsAPIError(err))

	_, err = c.GetCandleData(ctx, CandleParams{SymbolToken: "down"})
	require.Error(t, err)
	assert.False(t, IsAPIError(err))
}

func TestSearchScrip(t *testing.T) {
	c := newTestServer(t, func(route string, body map[string]string) (int, string) {
		return 200, `{"status":true,"data":[{"exchange":"NSE","tradingsymbol":"SBIN-EQ","symboltoken":"3045"}]}`
	})
	scrips, err := c.SearchScrip(context.Background(), "NSE", "SBIN")
	require.NoError(t, err)
	require.Len(t, scrips, 1)
	assert.Equal(t, "3045", scrips[0].SymbolToken)
}

func TestIsTokenExpired(t *testing.T) {
	assert.True(t, IsTokenExpired(&APIError{ErrorCode: "AG8002", Message: "Token Expired"}))
	assert.True(t, IsTokenExpired(fmt.Errorf("wrapped: %w", &APIError{ErrorCode: "AG8001"})))
	assert.True(t, IsTokenExpired(&APIError{Status: http.StatusUnauthorized}))
	assert.False(t, IsTokenExpired(&APIError{ErrorCode: "AB1004", Status: 200}))
	assert.False(t, IsTokenExpired(errors.New("dial tcp: refused")))
	assert.False(t, IsTokenExpired(nil))
}
