package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"kis-trader/internal/bus"
	"kis-trader/internal/domain"
)

const (
	approvalKeyTTL  = 30 * time.Second
	subscribePacing = 50 * time.Millisecond
	reconnectEvery  = 60 * time.Second
)

// Streamer holds the broker WebSocket subscription and republishes every
// parsed tick onto the ticks stream. Grounded on the teacher's
// websocket/client.go connect/ping/read loop shape, with the protobuf
// envelope dropped in favor of the broker's plain `|`/`^`-delimited text
// frame (see DESIGN.md for why protobuf has no home in this domain).
type Streamer struct {
	wsURL  string
	tokens *TokenManager
	pub    *bus.TypedStreamPublisher[domain.Tick]
	log    zerolog.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	approvalKey  string
	approvalAt   time.Time
	watchedCodes []string
}

// NewStreamer wires a Streamer against the configured WebSocket endpoint.
func NewStreamer(wsURL string, tokens *TokenManager, redisClient *redis.Client, log zerolog.Logger) *Streamer {
	return &Streamer{
		wsURL:  wsURL,
		tokens: tokens,
		pub:    bus.NewTypedStreamPublisher[domain.Tick](redisClient, bus.StreamPrices, 10000),
		log:    log,
	}
}

// Watch sets the list of codes to subscribe to on the next (re)connect.
func (s *Streamer) Watch(codes []string) {
	s.mu.Lock()
	s.watchedCodes = codes
	s.mu.Unlock()
}

// Run holds the connection open until ctx is cancelled, reconnecting every
// 60s (refreshing the approval key each time) or immediately on a read error.
func (s *Streamer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.connectAndSubscribe(ctx); err != nil {
			s.log.Warn().Err(err).Msg("⚠️ streamer connect failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}
		s.readLoop(ctx)
	}
}

func (s *Streamer) connectAndSubscribe(ctx context.Context) error {
	key, err := s.approvalKeyFor(ctx)
	if err != nil {
		return err
	}

	header := make(http.Header)
	header.Set("User-Agent", "kis-trader")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	codes := s.watchedCodes
	s.mu.Unlock()

	for _, code := range codes {
		if err := conn.WriteJSON(map[string]any{
			"header": map[string]string{"approval_key": key, "tr_type": "1"},
			"body":   map[string]string{"tr_id": "H0STCNT0", "tr_key": code},
		}); err != nil {
			return err
		}
		time.Sleep(subscribePacing)
	}
	return nil
}

// approvalKeyFor returns the cached approval key, fetching a fresh one from
// the broker once the cached one has aged past approvalKeyTTL.
func (s *Streamer) approvalKeyFor(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.approvalKey != "" && time.Since(s.approvalAt) < approvalKeyTTL {
		key := s.approvalKey
		s.mu.Unlock()
		return key, nil
	}
	s.mu.Unlock()

	token, err := s.tokens.Get(ctx)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.approvalKey = token
	s.approvalAt = time.Now()
	key := s.approvalKey
	s.mu.Unlock()
	return key, nil
}

func (s *Streamer) readLoop(ctx context.Context) {
	deadline := time.NewTimer(reconnectEvery)
	defer deadline.Stop()

	msgs := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		for {
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				errs <- err
				return
			}
			msgs <- data
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.conn.Close()
			return
		case <-deadline.C:
			s.conn.Close()
			return
		case err := <-errs:
			s.log.Warn().Err(err).Msg("⚠️ streamer read error")
			s.conn.Close()
			return
		case data := <-msgs:
			if len(data) > 0 && data[0] == '{' {
				s.handleJSONFrame(data)
				continue
			}
			if tick, ok := parseTickFrame(data); ok {
				if _, err := s.pub.Publish(ctx, tick); err != nil {
					s.log.Warn().Err(err).Str("code", tick.Code).Msg("⚠️ failed to publish tick")
				}
			}
		}
	}
}

// jsonFrame is the broker's JSON-envelope variant: subscription acks and the
// periodic PINGPONG keepalive, distinguished from tick frames by a leading '{'.
type jsonFrame struct {
	Header struct {
		TrID string `json:"tr_id"`
	} `json:"header"`
}

// handleJSONFrame echoes a PINGPONG keepalive back verbatim to hold the
// broker connection open; any other JSON frame (subscription ack, etc.) is
// logged and otherwise ignored.
func (s *Streamer) handleJSONFrame(raw []byte) {
	var frame jsonFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.log.Debug().Msg("non-JSON frame starting with '{'")
		return
	}
	if frame.Header.TrID != "PINGPONG" {
		s.log.Debug().Str("tr_id", frame.Header.TrID).Msg("KIS JSON frame")
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		s.log.Warn().Err(err).Msg("⚠️ failed to echo PINGPONG")
		return
	}
	s.log.Debug().Msg("PINGPONG echoed")
}

// parseTickFrame parses one `|`-delimited envelope whose payload is a
// `^`-delimited record: field 0=code, 2=price, 5=high, 10=volume. Pure and
// unit-tested without a live socket.
func parseTickFrame(raw []byte) (domain.Tick, bool) {
	text := string(raw)
	envelope := strings.Split(text, "|")
	if len(envelope) < 4 {
		return domain.Tick{}, false
	}
	fields := strings.Split(envelope[3], "^")
	if len(fields) < 11 {
		return domain.Tick{}, false
	}

	price, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return domain.Tick{}, false
	}
	high, _ := strconv.ParseFloat(fields[5], 64)
	volume, _ := strconv.ParseFloat(fields[10], 64)

	return domain.Tick{
		Code:      fields[0],
		Price:     price,
		High:      high,
		Volume:    volume,
		Timestamp: time.Now().UTC(),
	}, true
}
