// Package gateway bridges to a broker gateway that speaks JSON frames over a
// websocket. Outgoing frames are historical_request; incoming frames are
// tagged by "type" and decoded into session events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quotesync/internal/markethours"
	"quotesync/internal/model"
	"quotesync/internal/session"
)

const (
	writeWait    = 5 * time.Second
	pingInterval = 30 * time.Second
	endTimeFmt   = "20060102 15:04:05"
)

// Frame kinds the gateway sends that carry nothing the sync loop needs.
var informational = map[string]bool{
	"managed_accounts":  true,
	"news_bulletin":     true,
	"commission_report": true,
	"current_time":      true,
}

// Config configures the gateway connection.
type Config struct {
	URL    string // e.g. ws://127.0.0.1:4002/ws
	Token  string // sent as a bearer token, optional
	Market *markethours.Session
}

// Session implements session.Session over a websocket.
type Session struct {
	conn   *websocket.Conn
	market *markethours.Session
	events session.Queue

	writeMu sync.Mutex
	done    chan struct{}
	closeMu sync.Once
	closed  bool
	wg      sync.WaitGroup
}

// Dial connects to the gateway and starts the read and heartbeat loops.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", session.ErrTransport, cfg.URL, err)
	}

	market := cfg.Market
	if market == nil {
		market = markethours.US
	}
	s := &Session{conn: conn, market: market, done: make(chan struct{})}

	s.wg.Add(2)
	go s.readLoop()
	go s.heartbeatLoop()

	slog.Info("gateway connected", "url", cfg.URL)
	return s, nil
}

// outgoing is the historical_request frame.
type outgoing struct {
	Type            string `json:"type"`
	ReqID           int64  `json:"req_id"`
	Symbol          string `json:"symbol"`
	SecType         string `json:"sec_type"`
	Exchange        string `json:"exchange"`
	PrimaryExchange string `json:"primary_exchange,omitempty"`
	Currency        string `json:"currency"`
	EndTime         string `json:"end_time"`
	Duration        string `json:"duration"`
	BarSize         string `json:"bar_size"`
	WhatToShow      string `json:"what_to_show"`
	UseRTH          bool   `json:"use_rth"`
}

// Submit writes one historical_request frame.
func (s *Session) Submit(_ context.Context, req session.HistoricalRequest) error {
	barSize := req.BarSize
	if barSize == "" {
		barSize = session.DailyBars
	}
	frame := outgoing{
		Type:            "historical_request",
		ReqID:           req.RequestID,
		Symbol:          req.Symbol,
		SecType:         "STK",
		Exchange:        "SMART",
		PrimaryExchange: req.ExchangeHint,
		Currency:        "USD",
		EndTime:         req.AsOf.UTC().Format(endTimeFmt) + " UTC",
		Duration:        req.Duration(),
		BarSize:         barSize,
		WhatToShow:      "TRADES",
		UseRTH:          true,
	}
	if err := s.write(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: write request %d: %v", session.ErrTransport, req.RequestID, err)
	}
	return nil
}

func (s *Session) write(messageType int, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if messageType == websocket.PingMessage {
		return s.conn.WriteMessage(websocket.PingMessage, nil)
	}
	return s.conn.WriteJSON(v)
}

// Poll implements session.Session.
func (s *Session) Poll(context.Context) (session.Event, bool, error) {
	return s.events.Pop()
}

// Close sends a close frame and waits for the loops to exit.
func (s *Session) Close() error {
	var err error
	s.closeMu.Do(func() {
		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.closed = true
		s.writeMu.Unlock()

		close(s.done)
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.events.Fail(fmt.Errorf("gateway read: %w", err))
			}
			return
		}

		ev, err := decode(msg, s.market)
		if err != nil {
			s.events.Fail(err)
			return
		}
		s.events.Push(ev)
	}
}

// heartbeatLoop sends periodic ping messages
func (s *Session) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				slog.Warn("gateway ping failed", "error", err)
			}
		}
	}
}

// incoming is the union of all frame shapes; Type selects which fields apply.
type incoming struct {
	Type    string `json:"type"`
	ID      int64  `json:"id"`
	ReqID   int64  `json:"req_id"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Bar     *struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		WAP    float64 `json:"wap"`
		Volume int64   `json:"volume"`
		Count  int     `json:"count"`
	} `json:"bar"`
}

// decode maps one frame to an event. Malformed frames are protocol errors.
func decode(msg []byte, market *markethours.Session) (session.Event, error) {
	var in incoming
	if err := json.Unmarshal(msg, &in); err != nil {
		return nil, fmt.Errorf("gateway frame: %w", err)
	}

	switch in.Type {
	case "next_valid_id":
		return session.SessionReady{NextID: in.ID}, nil

	case "historical_data":
		if in.Bar == nil {
			return nil, fmt.Errorf("gateway frame: historical_data for %d without bar", in.ReqID)
		}
		ts, err := market.SessionCloseOf(in.Bar.Date)
		if err != nil {
			return nil, err
		}
		return session.Bar{RequestID: in.ReqID, Quote: model.Quote{
			Timestamp: ts,
			Open:      in.Bar.Open,
			High:      in.Bar.High,
			Low:       in.Bar.Low,
			Close:     in.Bar.Close,
			Avg:       in.Bar.WAP,
			Volume:    in.Bar.Volume,
			Count:     in.Bar.Count,
		}}, nil

	case "historical_data_end":
		start, _ := time.Parse(endTimeFmt, in.Start)
		end, _ := time.Parse(endTimeFmt, in.End)
		return session.EndOfHistory{RequestID: in.ReqID, Start: start, End: end}, nil

	case "error":
		// Negative ids are system notices (farm connection status and the like).
		if in.ReqID < 0 {
			return session.Informational{Kind: "notice", Message: fmt.Sprintf("%d: %s", in.Code, in.Message)}, nil
		}
		return session.RequestError{RequestID: in.ReqID, Code: in.Code, Message: in.Message}, nil
	}

	if informational[in.Type] {
		return session.Informational{Kind: in.Type, Message: in.Message}, nil
	}
	return session.Unsupported{Kind: in.Type}, nil
}
