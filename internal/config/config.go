package config

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/viper"

	"github.com/isqad/livelook-collab/internal/core"
)

const envPrefix = "LIVELOOK"

var DefaultStunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

var errEmptyControlURL = errors.New("control url is required")

// Config holds collaborator options
type Config struct {
	Env               core.Environment
	ControlURL        string
	User              UserConfig
	AutoReconnect     bool
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	SyncInterval      time.Duration
	MaxHistorySize    int
	RTC               RTCConfig
	// EventsRedisAddr enables the redis event mirror when set
	EventsRedisAddr   string
}

type UserConfig struct {
	ID    core.UserID
	Name  string
	Color string
}

type RTCConfig struct {
	ICEServers        []string
	ICEPortRangeStart uint16
	ICEPortRangeEnd   uint16
}

// ServerConfig holds signaling server options
type ServerConfig struct {
	Env            core.Environment
	Address        string
	Relay          string
	RedisAddr      string
	NatsURL        string
	PostgresDSN    string
	MaxMessageSize int64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", string(core.DevelopmentEnv))
	v.SetDefault("control_url", "ws://localhost:8080/ws")
	v.SetDefault("user.name", "anonymous")
	v.SetDefault("auto_reconnect", true)
	v.SetDefault("reconnect_delay", 5*time.Second)
	v.SetDefault("heartbeat_interval", 30*time.Second)
	v.SetDefault("sync_interval", time.Second)
	v.SetDefault("max_history_size", 100)
	v.SetDefault("rtc.ice_servers", DefaultStunServers)
	v.SetDefault("rtc.port_range_start", 50000)
	v.SetDefault("rtc.port_range_end", 60000)

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.relay", "local")
	v.SetDefault("server.max_message_size", 200*1024)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
}

// NewViper builds viper instance reading an optional file and LIVELOOK_* env vars
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	return v, nil
}

// NewConfig reads collaborator options from viper
func NewConfig(v *viper.Viper) (*Config, error) {
	env, err := core.ParseEnvironment(v.GetString("env"))
	if err != nil {
		return nil, err
	}

	conf := &Config{
		Env:        env,
		ControlURL: v.GetString("control_url"),
		User: UserConfig{
			ID:    core.UserID(v.GetString("user.id")),
			Name:  v.GetString("user.name"),
			Color: v.GetString("user.color"),
		},
		AutoReconnect:     v.GetBool("auto_reconnect"),
		ReconnectDelay:    v.GetDuration("reconnect_delay"),
		HeartbeatInterval: v.GetDuration("heartbeat_interval"),
		SyncInterval:      v.GetDuration("sync_interval"),
		MaxHistorySize:    v.GetInt("max_history_size"),
		RTC: RTCConfig{
			ICEServers:        v.GetStringSlice("rtc.ice_servers"),
			ICEPortRangeStart: uint16(v.GetUint("rtc.port_range_start")),
			ICEPortRangeEnd:   uint16(v.GetUint("rtc.port_range_end")),
		},
		EventsRedisAddr: v.GetString("events.redis_addr"),
	}

	if conf.User.ID == "" {
		conf.User.ID = core.UserID(uuid.NewString())
	}
	if conf.ControlURL == "" {
		return nil, errEmptyControlURL
	}

	return conf, nil
}

// NewServerConfig reads signaling server options from viper
func NewServerConfig(v *viper.Viper) (*ServerConfig, error) {
	env, err := core.ParseEnvironment(v.GetString("env"))
	if err != nil {
		return nil, err
	}

	return &ServerConfig{
		Env:            env,
		Address:        v.GetString("server.address"),
		Relay:          v.GetString("server.relay"),
		RedisAddr:      v.GetString("redis.addr"),
		NatsURL:        v.GetString("nats.url"),
		PostgresDSN:    v.GetString("postgres.dsn"),
		MaxMessageSize: v.GetInt64("server.max_message_size"),
	}, nil
}

// WebRTCConfig is the ready to use pion configuration for peer transports
type WebRTCConfig struct {
	Configuration webrtc.Configuration
	SettingEngine webrtc.SettingEngine
}

func NewWebRTCConfig(conf RTCConfig) (*WebRTCConfig, error) {
	c := webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	}
	if len(conf.ICEServers) > 0 {
		c.ICEServers = []webrtc.ICEServer{{URLs: conf.ICEServers}}
	}

	s := webrtc.SettingEngine{}

	// Data channels only need UDP
	s.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6,
	})
	if conf.ICEPortRangeStart > 0 && conf.ICEPortRangeEnd > conf.ICEPortRangeStart {
		if err := s.SetEphemeralUDPPortRange(conf.ICEPortRangeStart, conf.ICEPortRangeEnd); err != nil {
			return nil, err
		}
	}

	return &WebRTCConfig{
		Configuration: c,
		SettingEngine: s,
	}, nil
}
