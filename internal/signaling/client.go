package signaling

import (
	"context"
	"errors"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"

	"github.com/isqad/livelook-collab/internal/signal"
	"github.com/isqad/livelook-collab/internal/telemetry"
)

const (
	handshakeTimeout = 45 * time.Second
	writeWait        = 10 * time.Second
	closeWait        = time.Second
)

var errUnexpectedSignal = errors.New("signal can't be routed")

// Handlers receive decoded control messages, one handler per type. All of
// them run on the connection's read goroutine.
type Handlers struct {
	OnSessionInfo  func(*signal.SessionInfo)
	OnUserJoined   func(*signal.UserJoined)
	OnUserLeft     func(*signal.UserLeft)
	OnOffer        func(*signal.SDP)
	OnAnswer       func(*signal.SDP)
	OnICECandidate func(*signal.ICECandidate)
	OnStateSync    func(*signal.StateSync)
	// OnClose fires when the connection drops without Close being called
	OnClose func(err error)
}

// Client is the control connection to the signaling server
type Client struct {
	controlURL string
	dialer     *websocket.Dialer
	handlers   Handlers

	lock    sync.Mutex
	conn    *websocket.Conn
	closing bool
	done    chan struct{}
}

func NewClient(controlURL string, handlers Handlers) (*Client, error) {
	if _, err := url.Parse(controlURL); err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	return &Client{
		controlURL: controlURL,
		handlers:   handlers,
		dialer: &websocket.Dialer{
			Jar:              jar,
			HandshakeTimeout: handshakeTimeout,
		},
	}, nil
}

// Connect opens the control connection. It returns once the socket is open
// or failed to open.
func (c *Client) Connect(ctx context.Context, sessionID string) error {
	u, err := url.Parse(c.controlURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()

	c.Close()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		telemetry.ServiceOperationCounter.WithLabelValues("signaling_connect", "error", "dial").Add(1)
		return err
	}
	resp.Body.Close()

	done := make(chan struct{})

	c.lock.Lock()
	c.conn = conn
	c.closing = false
	c.done = done
	c.lock.Unlock()

	telemetry.ServiceOperationCounter.WithLabelValues("signaling_connect", "success", "").Add(1)
	log.Info().Str("service", "signaling").Str("url", u.String()).Msg("connected")

	go c.readLoop(conn, done)

	return nil
}

func (c *Client) IsOpen() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.conn != nil
}

// Send writes the signal if the connection is open and silently drops it
// otherwise
func (c *Client) Send(s signal.Signal) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.conn == nil {
		telemetry.SignalCounter.WithLabelValues("dropped", string(s.GetType())).Inc()
		log.Debug().Str("service", "signaling").Str("type", string(s.GetType())).Msg("not connected, signal dropped")
		return nil
	}

	data, err := s.ToJSON()
	if err != nil {
		return err
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	telemetry.SignalCounter.WithLabelValues("out", string(s.GetType())).Inc()

	return nil
}

// Close shuts the connection down without triggering OnClose
func (c *Client) Close() {
	c.lock.Lock()
	conn, done := c.conn, c.done
	c.closing = true
	c.conn = nil
	c.lock.Unlock()

	if conn == nil {
		return
	}

	// Cleanly close the connection by sending a close message and then
	// waiting (with timeout) for the server to close the connection.
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	select {
	case <-done:
	case <-time.After(closeWait):
	}
	conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	var readErr error
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}

		s, err := signal.FromBytes(message)
		if err != nil {
			log.Warn().Err(err).Str("service", "signaling").Msg("drop malformed signal")
			continue
		}
		telemetry.SignalCounter.WithLabelValues("in", string(s.GetType())).Inc()

		if err := c.route(s); err != nil {
			log.Warn().Err(err).Str("service", "signaling").Str("type", string(s.GetType())).Msg("drop signal")
		}
	}

	c.lock.Lock()
	closing := c.closing
	if c.conn == conn {
		c.conn = nil
	}
	c.lock.Unlock()

	close(done)
	conn.Close()

	if closing {
		return
	}

	log.Warn().Err(readErr).Str("service", "signaling").Msg("connection lost")
	if c.handlers.OnClose != nil {
		c.handlers.OnClose(readErr)
	}
}

func (c *Client) route(s signal.Signal) error {
	h := c.handlers

	switch v := s.(type) {
	case *signal.SessionInfo:
		if h.OnSessionInfo != nil {
			h.OnSessionInfo(v)
		}
	case *signal.UserJoined:
		if h.OnUserJoined != nil {
			h.OnUserJoined(v)
		}
	case *signal.UserLeft:
		if h.OnUserLeft != nil {
			h.OnUserLeft(v)
		}
	case *signal.SDP:
		if v.Type == signal.OfferType && h.OnOffer != nil {
			h.OnOffer(v)
		} else if v.Type == signal.AnswerType && h.OnAnswer != nil {
			h.OnAnswer(v)
		}
	case *signal.ICECandidate:
		if h.OnICECandidate != nil {
			h.OnICECandidate(v)
		}
	case *signal.StateSync:
		if h.OnStateSync != nil {
			h.OnStateSync(v)
		}
	default:
		return errUnexpectedSignal
	}

	return nil
}
