package config

import (
	"fmt"
	"time"
)

// ConfigFile is the on-disk shape of Config. Durations are strings such as
// "30s"; unset fields keep their current value.
// FUNCTIONAL DISCOVERY: Separate struct for parsing to handle duration strings
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http" yaml:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket" yaml:"websocket"`
	Database  *DatabaseConfigFile  `json:"database" yaml:"database"`
	Presence  *PresenceConfigFile  `json:"presence" yaml:"presence"`
	Backplane *BackplaneConfigFile `json:"backplane" yaml:"backplane"`
	Auth      *AuthConfigFile      `json:"auth" yaml:"auth"`
	API       *APIConfigFile       `json:"api" yaml:"api"`
	Log       *LogConfigFile       `json:"log" yaml:"log"`
}

type HTTPConfigFile struct {
	Host            string `json:"host" yaml:"host"`
	Port            int    `json:"port" yaml:"port"`
	ReadTimeout     string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    string `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type WebSocketConfigFile struct {
	PingInterval    string   `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout     string   `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    string   `json:"write_timeout" yaml:"write_timeout"`
	MaxMessageBytes int64    `json:"max_message_bytes" yaml:"max_message_bytes"`
	BufferSize      int      `json:"buffer_size" yaml:"buffer_size"`
	RateLimit       *int     `json:"rate_limit" yaml:"rate_limit"`
	RateWindow      string   `json:"rate_window" yaml:"rate_window"`
	AllowedOrigins  []string `json:"allowed_origins" yaml:"allowed_origins"`
}

type DatabaseConfigFile struct {
	Path           string `json:"path" yaml:"path"`
	MaxConnections int    `json:"max_connections" yaml:"max_connections"`
	WriteTimeout   string `json:"write_timeout" yaml:"write_timeout"`
	RetryDelay     string `json:"retry_delay" yaml:"retry_delay"`
	AutoMigrate    *bool  `json:"auto_migrate" yaml:"auto_migrate"`
}

type PresenceConfigFile struct {
	Mode string `json:"mode" yaml:"mode"`
}

type BackplaneConfigFile struct {
	Driver  string `json:"driver" yaml:"driver"`
	NodeID  string `json:"node_id" yaml:"node_id"`
	Channel string `json:"channel" yaml:"channel"`
	Redis   *struct {
		Addr     string `json:"addr" yaml:"addr"`
		Password string `json:"password" yaml:"password"`
		DB       int    `json:"db" yaml:"db"`
		PoolSize int    `json:"pool_size" yaml:"pool_size"`
	} `json:"redis" yaml:"redis"`
	NATS *struct {
		URL           string `json:"url" yaml:"url"`
		ReconnectWait string `json:"reconnect_wait" yaml:"reconnect_wait"`
		Timeout       string `json:"timeout" yaml:"timeout"`
	} `json:"nats" yaml:"nats"`
}

type AuthConfigFile struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	Required  *bool  `json:"required" yaml:"required"`
}

type APIConfigFile struct {
	Key string `json:"key" yaml:"key"`
}

type LogConfigFile struct {
	Level       string `json:"level" yaml:"level"`
	Development *bool  `json:"development" yaml:"development"`
}

// apply overlays every field the file sets onto config.
func (f *ConfigFile) apply(config *Config) error {
	var d durations

	if h := f.HTTP; h != nil {
		setString(&config.HTTP.Host, h.Host)
		setInt(&config.HTTP.Port, h.Port)
		d.parse("http.read_timeout", h.ReadTimeout, &config.HTTP.ReadTimeout)
		d.parse("http.write_timeout", h.WriteTimeout, &config.HTTP.WriteTimeout)
		d.parse("http.shutdown_timeout", h.ShutdownTimeout, &config.HTTP.ShutdownTimeout)
	}

	if w := f.WebSocket; w != nil {
		d.parse("websocket.ping_interval", w.PingInterval, &config.WebSocket.PingInterval)
		d.parse("websocket.read_timeout", w.ReadTimeout, &config.WebSocket.ReadTimeout)
		d.parse("websocket.write_timeout", w.WriteTimeout, &config.WebSocket.WriteTimeout)
		if w.MaxMessageBytes > 0 {
			config.WebSocket.MaxMessageBytes = w.MaxMessageBytes
		}
		setInt(&config.WebSocket.BufferSize, w.BufferSize)
		if w.RateLimit != nil {
			config.WebSocket.RateLimit = *w.RateLimit
		}
		d.parse("websocket.rate_window", w.RateWindow, &config.WebSocket.RateWindow)
		if len(w.AllowedOrigins) > 0 {
			config.WebSocket.AllowedOrigins = w.AllowedOrigins
		}
	}

	if db := f.Database; db != nil {
		setString(&config.Database.Path, db.Path)
		setInt(&config.Database.MaxConnections, db.MaxConnections)
		d.parse("database.write_timeout", db.WriteTimeout, &config.Database.WriteTimeout)
		d.parse("database.retry_delay", db.RetryDelay, &config.Database.RetryDelay)
		if db.AutoMigrate != nil {
			config.Database.AutoMigrate = *db.AutoMigrate
		}
	}

	if p := f.Presence; p != nil {
		setString(&config.Presence.Mode, p.Mode)
	}

	if b := f.Backplane; b != nil {
		setString(&config.Backplane.Driver, b.Driver)
		setString(&config.Backplane.NodeID, b.NodeID)
		setString(&config.Backplane.Channel, b.Channel)
		if r := b.Redis; r != nil {
			setString(&config.Backplane.Redis.Addr, r.Addr)
			setString(&config.Backplane.Redis.Password, r.Password)
			setInt(&config.Backplane.Redis.DB, r.DB)
			setInt(&config.Backplane.Redis.PoolSize, r.PoolSize)
		}
		if n := b.NATS; n != nil {
			setString(&config.Backplane.NATS.URL, n.URL)
			d.parse("backplane.nats.reconnect_wait", n.ReconnectWait, &config.Backplane.NATS.ReconnectWait)
			d.parse("backplane.nats.timeout", n.Timeout, &config.Backplane.NATS.Timeout)
		}
	}

	if a := f.Auth; a != nil {
		setString(&config.Auth.JWTSecret, a.JWTSecret)
		if a.Required != nil {
			config.Auth.Required = *a.Required
		}
	}

	if a := f.API; a != nil {
		setString(&config.API.Key, a.Key)
	}

	if l := f.Log; l != nil {
		setString(&config.Log.Level, l.Level)
		if l.Development != nil {
			config.Log.Development = *l.Development
		}
	}

	return d.err
}

// durations collects the first parse failure.
type durations struct {
	err error
}

func (d *durations) parse(field, value string, dst *time.Duration) {
	if value == "" || d.err != nil {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		d.err = fmt.Errorf("%s: %w", field, err)
		return
	}
	*dst = parsed
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, value int) {
	if value > 0 {
		*dst = value
	}
}
