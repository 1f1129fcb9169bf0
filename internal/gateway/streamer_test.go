package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTickFrame_ValidFrame(t *testing.T) {
	fields := make([]string, 11)
	fields[0] = "005930"
	fields[2] = "71500"
	fields[5] = "72000"
	fields[10] = "123456"
	payload := ""
	for i, f := range fields {
		if i > 0 {
			payload += "^"
		}
		payload += f
	}
	raw := []byte("0|H0STCNT0|001|" + payload)

	tick, ok := parseTickFrame(raw)
	assert.True(t, ok)
	assert.Equal(t, "005930", tick.Code)
	assert.Equal(t, 71500.0, tick.Price)
	assert.Equal(t, 72000.0, tick.High)
	assert.Equal(t, 123456.0, tick.Volume)
}

func TestParseTickFrame_TooFewEnvelopeFields(t *testing.T) {
	_, ok := parseTickFrame([]byte("0|H0STCNT0"))
	assert.False(t, ok)
}

func TestParseTickFrame_TooFewPayloadFields(t *testing.T) {
	_, ok := parseTickFrame([]byte("0|H0STCNT0|001|a^b^c"))
	assert.False(t, ok)
}

func TestParseTickFrame_NonNumericPrice(t *testing.T) {
	fields := make([]string, 11)
	fields[0] = "005930"
	fields[2] = "not-a-number"
	raw := []byte("0|H0STCNT0|001|" + joinCaret(fields))
	_, ok := parseTickFrame(raw)
	assert.False(t, ok)
}

// newWSPair starts a local echo-observing websocket server and returns a
// client-side *websocket.Conn plus a channel of everything the server side
// received, so handleJSONFrame's echo can be asserted without a live broker.
func newWSPair(t *testing.T) (*websocket.Conn, <-chan []byte) {
	t.Helper()
	received := make(chan []byte, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, received
}

func TestHandleJSONFrame_EchoesPingPongVerbatim(t *testing.T) {
	conn, received := newWSPair(t)
	s := &Streamer{conn: conn, log: zerolog.Nop()}

	frame := []byte(`{"header":{"tr_id":"PINGPONG"},"body":{}}`)
	s.handleJSONFrame(frame)

	select {
	case got := <-received:
		assert.Equal(t, frame, got)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the echoed PINGPONG frame")
	}
}

func TestHandleJSONFrame_IgnoresNonPingPongEnvelope(t *testing.T) {
	conn, received := newWSPair(t)
	s := &Streamer{conn: conn, log: zerolog.Nop()}

	s.handleJSONFrame([]byte(`{"header":{"tr_id":"H0STCNT0"},"body":{"rt_cd":"0"}}`))

	select {
	case got := <-received:
		t.Fatalf("expected no echo for a non-PINGPONG frame, got %s", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func joinCaret(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += "^"
		}
		out += f
	}
	return out
}
