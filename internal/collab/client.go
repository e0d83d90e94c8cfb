package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-collab/internal/channel"
	"github.com/isqad/livelook-collab/internal/config"
	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/eventbus"
	"github.com/isqad/livelook-collab/internal/presence"
	"github.com/isqad/livelook-collab/internal/reconnect"
	"github.com/isqad/livelook-collab/internal/rtc"
	"github.com/isqad/livelook-collab/internal/signal"
	"github.com/isqad/livelook-collab/internal/signaling"
	"github.com/isqad/livelook-collab/internal/statesync"
	"github.com/isqad/livelook-collab/internal/telemetry"
)

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnectionLost   = errors.New("control connection lost before session info")
	ErrDisconnected     = errors.New("client is disconnecting")
)

// SignalingClient is the control connection used by the client
type SignalingClient interface {
	Connect(ctx context.Context, sessionID string) error
	Send(s signal.Signal) error
	IsOpen() bool
	Close()
}

// PeerSupervisor manages the peer links of the mesh
type PeerSupervisor interface {
	HandleUserJoined(peerID core.UserID) error
	HandleOffer(sdp *signal.SDP) error
	HandleAnswer(sdp *signal.SDP) error
	HandleICECandidate(c *signal.ICECandidate) error
	HandleUserLeft(peerID core.UserID)
	CloseAll()
}

type SignalingFactory func(controlURL string, handlers signaling.Handlers) (SignalingClient, error)

type PeerFactory func(localID core.UserID, sender rtc.SignalSender, handler rtc.Handler) (PeerSupervisor, error)

type Option func(*Client)

func WithClock(clock func() time.Time) Option {
	return func(c *Client) { c.now = clock }
}

func WithSignaling(f SignalingFactory) Option {
	return func(c *Client) { c.newSignaling = f }
}

func WithPeers(f PeerFactory) Option {
	return func(c *Client) { c.newPeers = f }
}

// WithEventMirror republishes every event to redis while connected
func WithEventMirror(rdb eventbus.RedisPublisher) Option {
	return func(c *Client) { c.mirrorRDB = rdb }
}

type pendingConnect struct {
	ready chan struct{}
	lost  chan struct{}
}

// Client is the collaboration facade: it wires the control connection, the
// peer mesh, the state synchronizer and presence for one local user
type Client struct {
	conf   *config.Config
	userID core.UserID
	now    func() time.Time

	newSignaling SignalingFactory
	newPeers     PeerFactory
	mirrorRDB    eventbus.RedisPublisher

	events    *eventbus.Emitter
	channels  *channel.Manager
	roster    *presence.Roster
	sync      *statesync.Synchronizer
	signaling SignalingClient
	peers     PeerSupervisor
	monitor   *presence.Monitor
	reconnect *reconnect.Supervisor

	lock             sync.Mutex
	sessionID        string
	connected        bool
	disconnecting    bool
	pending          *pendingConnect
	syncStop         chan struct{}
	syncedVersion    int64
	messagesReceived uint64
	mirror           *eventbus.RedisMirror
}

func New(conf *config.Config, opts ...Option) (*Client, error) {
	c := &Client{
		conf:          conf,
		userID:        conf.User.ID,
		now:           time.Now,
		events:        eventbus.NewEmitter(),
		channels:      channel.NewManager(),
		roster:        presence.NewRoster(),
		syncedVersion: -1,
	}
	c.newSignaling = func(url string, h signaling.Handlers) (SignalingClient, error) {
		return signaling.NewClient(url, h)
	}
	c.newPeers = func(localID core.UserID, sender rtc.SignalSender, handler rtc.Handler) (PeerSupervisor, error) {
		webrtcConf, err := config.NewWebRTCConfig(conf.RTC)
		if err != nil {
			return nil, err
		}
		return rtc.NewSupervisor(localID, webrtcConf, sender, handler), nil
	}

	for _, opt := range opts {
		opt(c)
	}

	c.sync = statesync.New(statesync.Options{
		UserID:         c.userID,
		MaxHistorySize: conf.MaxHistorySize,
		Broadcaster:    c.channels,
		Events:         publisherFunc(c.emitStateEvent),
		Clock:          c.now,
	})

	var err error
	c.signaling, err = c.newSignaling(conf.ControlURL, signaling.Handlers{
		OnSessionInfo:  c.handleSessionInfo,
		OnUserJoined:   c.handleUserJoined,
		OnUserLeft:     c.handleUserLeft,
		OnOffer:        c.handleOffer,
		OnAnswer:       c.handleAnswer,
		OnICECandidate: c.handleICECandidate,
		OnStateSync:    c.handleStateSync,
		OnClose:        c.handleConnectionLost,
	})
	if err != nil {
		return nil, err
	}

	c.peers, err = c.newPeers(c.userID, c.signaling, (*meshHandler)(c))
	if err != nil {
		return nil, err
	}

	c.monitor = presence.NewMonitor(c.userID, conf.HeartbeatInterval, c.signaling, c.channels, c.roster, c.now)
	c.reconnect = reconnect.NewSupervisor(conf.ReconnectDelay, c.connect)

	return c, nil
}

// Connect joins the session and returns once session-info arrived. A
// failure here is returned as is and doesn't trigger reconnects.
func (c *Client) Connect(ctx context.Context, sessionID string) error {
	c.lock.Lock()
	if c.connected {
		c.lock.Unlock()
		return ErrAlreadyConnected
	}
	c.sessionID = sessionID
	c.disconnecting = false
	if c.mirrorRDB != nil && c.mirror == nil {
		c.mirror = eventbus.NewRedisMirror(c.mirrorRDB, sessionID)
		c.mirror.Attach(c.events)
	}
	c.lock.Unlock()

	if err := c.connect(ctx); err != nil {
		telemetry.ServiceOperationCounter.WithLabelValues("collab_connect", "error", "").Add(1)
		return err
	}

	telemetry.SessionStarted()
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	p := &pendingConnect{ready: make(chan struct{}), lost: make(chan struct{})}

	c.lock.Lock()
	sessionID := c.sessionID
	c.pending = p
	c.lock.Unlock()

	if err := c.signaling.Connect(ctx, sessionID); err != nil {
		c.clearPending(p)
		return fmt.Errorf("connect to signaling: %w", err)
	}

	if err := c.signaling.Send(signal.NewJoin(sessionID, c.localUser())); err != nil {
		c.clearPending(p)
		c.signaling.Close()
		return fmt.Errorf("send join: %w", err)
	}

	select {
	case <-p.ready:
	case <-p.lost:
		return ErrConnectionLost
	case <-ctx.Done():
		c.clearPending(p)
		c.signaling.Close()
		return ctx.Err()
	}

	c.lock.Lock()
	if c.disconnecting {
		c.lock.Unlock()
		return ErrDisconnected
	}
	c.connected = true
	c.lock.Unlock()

	c.monitor.Start()
	c.startAutoSync()

	log.Info().Str("service", "collab").Str("sessionID", sessionID).Str("userID", string(c.userID)).Msg("connected")
	c.events.Emit(eventbus.ConnectionEstablished, eventbus.ConnectionInfo{SessionID: sessionID})

	return nil
}

func (c *Client) clearPending(p *pendingConnect) {
	c.lock.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.lock.Unlock()
}

// Disconnect stops the timers first, then leaves the session and tears the
// transports down
func (c *Client) Disconnect() {
	c.lock.Lock()
	c.disconnecting = true
	wasConnected := c.connected
	c.connected = false
	sessionID := c.sessionID
	mirror := c.mirror
	c.mirror = nil
	c.lock.Unlock()

	c.reconnect.Stop()
	c.monitor.Stop()
	c.stopAutoSync()

	if wasConnected {
		if err := c.signaling.Send(signal.NewLeave(sessionID, c.userID)); err != nil {
			log.Warn().Err(err).Str("service", "collab").Msg("leave not sent")
		}
		telemetry.SessionStopped()
	}

	c.peers.CloseAll()
	c.channels.CloseAll()
	c.signaling.Close()

	if mirror != nil {
		mirror.Detach()
	}

	log.Info().Str("service", "collab").Str("sessionID", sessionID).Msg("disconnected")
}

func (c *Client) handleConnectionLost(err error) {
	c.lock.Lock()
	if p := c.pending; p != nil {
		c.pending = nil
		c.lock.Unlock()
		close(p.lost)
		return
	}
	if c.disconnecting || !c.connected {
		c.lock.Unlock()
		return
	}
	c.connected = false
	sessionID := c.sessionID
	c.lock.Unlock()

	c.monitor.Stop()
	c.stopAutoSync()

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	c.events.Emit(eventbus.ConnectionLost, eventbus.ConnectionInfo{SessionID: sessionID, Reason: reason})

	if c.conf.AutoReconnect {
		c.reconnect.Schedule()
	}
}

func (c *Client) startAutoSync() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.syncStop != nil {
		return
	}
	stop := make(chan struct{})
	c.syncStop = stop

	interval := c.conf.SyncInterval
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.autoSync()
			}
		}
	}()
}

func (c *Client) stopAutoSync() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.syncStop != nil {
		close(c.syncStop)
		c.syncStop = nil
	}
}

// autoSync pushes the state to the server when it moved since the last push
// and re-broadcasts it to reachable peers. Only the author of a state pushes
// it; states adopted from others are marked synced.
func (c *Client) autoSync() {
	if session := c.roster.Session(); session != nil && !session.Settings.AutoSyncEnabled() {
		return
	}

	state, ok := c.sync.State()
	if !ok || !c.signaling.IsOpen() {
		return
	}

	c.lock.Lock()
	synced := c.syncedVersion == state.Version
	if !synced && state.LastModifiedBy != c.userID {
		c.syncedVersion = state.Version
		synced = true
	}
	c.lock.Unlock()
	if synced {
		return
	}

	if err := c.signaling.Send(signal.NewStateSync(state)); err != nil {
		log.Warn().Err(err).Str("service", "collab").Msg("state sync not sent")
		return
	}
	c.sync.Rebroadcast()

	c.lock.Lock()
	c.syncedVersion = state.Version
	c.lock.Unlock()

	c.events.Emit(eventbus.SyncComplete, eventbus.SyncInfo{Version: state.Version})
}

func (c *Client) localUser() *core.User {
	u := &core.User{
		ID:          c.userID,
		DisplayName: c.conf.User.Name,
		Color:       c.conf.User.Color,
	}
	u.Touch(c.now())
	return u
}

type publisherFunc func(name eventbus.Event, payload interface{})

func (f publisherFunc) Emit(name eventbus.Event, payload interface{}) {
	f(name, payload)
}

// emitStateEvent forwards synchronizer events and derives the finer grained
// theme and color events from state changes
func (c *Client) emitStateEvent(name eventbus.Event, payload interface{}) {
	c.events.Emit(name, payload)

	change, ok := payload.(eventbus.StateChange)
	if !ok {
		return
	}

	if change.Previous.Theme != change.Current.Theme || change.Previous.Mode != change.Current.Mode {
		c.events.Emit(eventbus.ThemeChanged, change)
	}
	if !core.SameColors(change.Previous.Colors, change.Current.Colors) {
		c.events.Emit(eventbus.ColorChanged, change)
	}
}
