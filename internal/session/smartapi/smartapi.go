// Package smartapi adapts the Angel One SmartAPI REST client to the polled
// session model: each Submit runs getCandleData on a bounded worker pool and
// its outcome is queued as Bar/EndOfHistory or RequestError events.
package smartapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"quotesync/internal/markethours"
	"quotesync/internal/model"
	"quotesync/internal/session"
	"quotesync/pkg/smartconnect"
)

// Request error codes, mirroring the broker gateway's numbering where one
// exists.
const (
	CodeNoSecurity = 200 // no security definition found for the symbol
	CodeAPI        = 162 // historical data service error
)

// Config configures the SmartAPI session.
type Config struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string
	RootURL    string // empty for production

	DefaultExchange string // used when a ticker has no exchange hint, e.g. "NSE"
	Workers         int    // concurrent getCandleData calls
	Market          *markethours.Session
}

// Session implements session.Session over REST.
type Session struct {
	client *smartconnect.Client
	cfg    Config
	events session.Queue
	sem    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tokens map[string]string // exchange:symbol → symboltoken
	closed bool

	renewMu sync.Mutex
}

// Dial logs in with a fresh TOTP code and returns a ready session.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	client := smartconnect.New(smartconnect.Config{APIKey: cfg.APIKey, RootURL: cfg.RootURL})

	code, err := totp.GenerateCode(cfg.TOTPSecret, time.Now())
	if err != nil {
		return nil, fmt.Errorf("smartapi totp: %w", err)
	}
	if err := client.GenerateSession(ctx, cfg.ClientCode, cfg.Password, code); err != nil {
		if smartconnect.IsAPIError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", session.ErrTransport, err)
	}
	slog.Info("smartapi session established", "client", cfg.ClientCode)
	return New(client, cfg), nil
}

// New wraps an already authenticated client.
func New(client *smartconnect.Client, cfg Config) *Session {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.DefaultExchange == "" {
		cfg.DefaultExchange = "NSE"
	}
	if cfg.Market == nil {
		cfg.Market = markethours.NSE
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client: client,
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.Workers),
		ctx:    ctx,
		cancel: cancel,
		tokens: make(map[string]string),
	}
	// REST has no id handshake, any id works.
	s.events.Push(session.SessionReady{NextID: 1})
	return s
}

// Submit queues req for the worker pool and returns immediately.
func (s *Session) Submit(_ context.Context, req session.HistoricalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: session closed", session.ErrTransport)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.sem <- struct{}{}:
		case <-s.ctx.Done():
			return
		}
		defer func() { <-s.sem }()
		s.fetch(req)
	}()
	return nil
}

// Poll implements session.Session.
func (s *Session) Poll(context.Context) (session.Event, bool, error) {
	return s.events.Pop()
}

// Close stops outstanding fetches and logs out.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.client.AccessToken() != "" {
		if err := s.client.TerminateSession(ctx); err != nil {
			slog.Warn("smartapi logout failed", "error", err)
		}
	}
	return nil
}

func (s *Session) fetch(req session.HistoricalRequest) {
	exchange := req.ExchangeHint
	if exchange == "" {
		exchange = s.cfg.DefaultExchange
	}

	token, err := s.resolve(exchange, req.Symbol)
	if err != nil {
		s.fail(req.RequestID, err)
		return
	}
	if token == "" {
		s.events.Push(session.RequestError{
			RequestID: req.RequestID,
			Code:      CodeNoSecurity,
			Message:   fmt.Sprintf("no security definition for %s on %s", req.Symbol, exchange),
		})
		return
	}

	start := req.Start()
	var candles []smartconnect.Candle
	err = s.call(func() (err error) {
		candles, err = s.client.GetCandleData(s.ctx, smartconnect.CandleParams{
			Exchange:    exchange,
			SymbolToken: token,
			Interval:    smartconnect.OneDay,
			From:        start,
			To:          req.AsOf,
		})
		return err
	})
	if err != nil {
		s.fail(req.RequestID, err)
		return
	}

	for _, c := range candles {
		s.events.Push(session.Bar{RequestID: req.RequestID, Quote: model.Quote{
			Timestamp: s.barTime(c.Time),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Avg:       -1,
			Volume:    c.Volume,
			Count:     -1,
		}})
	}
	s.events.Push(session.EndOfHistory{RequestID: req.RequestID, Start: start, End: req.AsOf})
}

// call runs fn and, if the API reports the access token expired, renews it
// and runs fn once more.
func (s *Session) call(fn func() error) error {
	stale := s.client.AccessToken()
	err := fn()
	if !smartconnect.IsTokenExpired(err) {
		return err
	}
	if rerr := s.renew(stale); rerr != nil {
		return fmt.Errorf("%w (token renewal: %v)", err, rerr)
	}
	return fn()
}

// renew refreshes the access token unless another worker already replaced
// stale.
func (s *Session) renew(stale string) error {
	s.renewMu.Lock()
	defer s.renewMu.Unlock()
	if s.client.AccessToken() != stale {
		return nil
	}
	slog.Info("smartapi access token expired, renewing")
	return s.client.RenewAccessToken(s.ctx)
}

// barTime stamps a candle at its own session's close. Candles are dated at
// midnight IST, so the calendar date is read there before normalising.
func (s *Session) barTime(t time.Time) time.Time {
	d := t.In(markethours.IST)
	return s.cfg.Market.SessionClose(time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, s.cfg.Market.Location))
}

// fail turns an API-reported problem into a per-request error and anything
// else into a fatal transport error.
func (s *Session) fail(id int64, err error) {
	var apiErr *smartconnect.APIError
	switch {
	case errors.As(err, &apiErr):
		s.events.Push(session.RequestError{RequestID: id, Code: CodeAPI, Message: apiErr.Error()})
	case errors.Is(err, context.Canceled):
		// Close in progress.
	default:
		s.events.Fail(err)
	}
}

// resolve maps a ticker to its symbol token, caching the answer. It returns
// "" when the exchange has no matching equity.
func (s *Session) resolve(exchange, symbol string) (string, error) {
	key := exchange + ":" + symbol
	s.mu.Lock()
	token, ok := s.tokens[key]
	s.mu.Unlock()
	if ok {
		return token, nil
	}

	var scrips []smartconnect.Scrip
	err := s.call(func() (err error) {
		scrips, err = s.client.SearchScrip(s.ctx, exchange, symbol)
		return err
	})
	if err != nil {
		return "", err
	}
	token = pickScrip(scrips, symbol)

	s.mu.Lock()
	s.tokens[key] = token
	s.mu.Unlock()
	return token, nil
}

// pickScrip prefers the "-EQ" series, then an exact symbol match.
func pickScrip(scrips []smartconnect.Scrip, symbol string) string {
	for _, want := range []string{symbol + "-EQ", symbol} {
		for _, sc := range scrips {
			if strings.EqualFold(sc.TradingSymbol, want) {
				return sc.SymbolToken
			}
		}
	}
	return ""
}
