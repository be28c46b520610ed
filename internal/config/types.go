// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Component names a per-channel archiving feature.
type Component string

const (
	ComponentVideo  Component = "video"
	ComponentVod    Component = "vod"
	ComponentEvents Component = "events"
	ComponentChat   Component = "chat"
	ComponentStats  Component = "stats"
)

// AppConfig is the fully resolved runtime configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	DataDir  string          `yaml:"dataDir"`
	Channels []ChannelConfig `yaml:"channels"`

	Log       LogConfig       `yaml:"log"`
	Platform  PlatformConfig  `yaml:"platform"`
	Live      LiveConfig      `yaml:"live"`
	Vod       VodConfig       `yaml:"vod"`
	Stats     StatsConfig     `yaml:"stats"`
	Journal   JournalConfig   `yaml:"journal"`
	Cache     CacheConfig     `yaml:"cache"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ChannelConfig selects which components run for one channel login.
type ChannelConfig struct {
	Name       string      `yaml:"name"`
	Components []Component `yaml:"components"`
}

// Has reports whether the channel enables component c.
func (c ChannelConfig) Has(comp Component) bool {
	for _, v := range c.Components {
		if v == comp {
			return true
		}
	}
	return false
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// PlatformConfig holds endpoints and credentials of the streaming platform API.
type PlatformConfig struct {
	ClientID       string `yaml:"clientId"`
	ClientSecret   string `yaml:"clientSecret"`
	OAuthVideo     string `yaml:"oauthVideo"`
	GQLClientID    string `yaml:"gqlClientId"`
	LegacyClientID string `yaml:"legacyClientId"`

	// Chat credentials
	Username string `yaml:"username"`
	OAuth    string `yaml:"oauth"`

	HelixURL     string `yaml:"helixUrl"`
	AuthURL      string `yaml:"authUrl"`
	GQLURL       string `yaml:"gqlUrl"`
	LegacyAPIURL string `yaml:"legacyApiUrl"`
	UsherURL     string `yaml:"usherUrl"`
	PubSubURL    string `yaml:"pubsubUrl"`
	ChatURL      string `yaml:"chatUrl"`

	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"maxRetries"`
	Backoff         time.Duration `yaml:"backoff"`
	MaxBackoff      time.Duration `yaml:"maxBackoff"`
	RateLimit       float64       `yaml:"rateLimit"`
	RateBurst       int           `yaml:"rateBurst"`
	BreakerFailures int           `yaml:"breakerFailures"`
	BreakerReset    time.Duration `yaml:"breakerReset"`
}

// LiveConfig tunes the live recorder.
type LiveConfig struct {
	SegmentAttempts             int           `yaml:"segmentAttempts"`
	IdleTimeout                 time.Duration `yaml:"idleTimeout"`
	DefaultRefresh              time.Duration `yaml:"defaultRefresh"`
	CongestionDispatchLimit     int           `yaml:"congestionDispatchLimit"`
	RefreshConcurrencyThreshold int           `yaml:"refreshConcurrencyThreshold"`
	ResolveAttempts             int           `yaml:"resolveAttempts"`
	ResolveDelay                time.Duration `yaml:"resolveDelay"`
	StreamRecheckDelay          time.Duration `yaml:"streamRecheckDelay"`
	StreamPollInterval          time.Duration `yaml:"streamPollInterval"`
	FilenamePadding             int           `yaml:"filenamePadding"`
}

// VodConfig tunes VOD discovery and download.
type VodConfig struct {
	SegmentAttempts    int           `yaml:"segmentAttempts"`
	IdleTimeout        time.Duration `yaml:"idleTimeout"`
	Workers            int           `yaml:"workers"`
	StreamWaitTimeout  time.Duration `yaml:"streamWaitTimeout"`
	StreamWaitInterval time.Duration `yaml:"streamWaitInterval"`
	PollInterval       time.Duration `yaml:"pollInterval"`
	DiscoveryTimeout   time.Duration `yaml:"discoveryTimeout"`
	MatchWindow        time.Duration `yaml:"matchWindow"`
	MatchSkew          time.Duration `yaml:"matchSkew"`
	GuessAttempts      int           `yaml:"guessAttempts"`
	GuessBackoff       time.Duration `yaml:"guessBackoff"`
	PlaylistAttempts   int           `yaml:"playlistAttempts"`
	PlaylistDelay      time.Duration `yaml:"playlistDelay"`
	UpdateInterval     time.Duration `yaml:"updateInterval"`
	DoneAfter          time.Duration `yaml:"doneAfter"`
	FilenamePadding    int           `yaml:"filenamePadding"`
}

type StatsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// JournalConfig selects the recording journal backend: none, memory, sqlite, postgres or mongo.
type JournalConfig struct {
	Backend       string `yaml:"backend"`
	SQLitePath    string `yaml:"sqlitePath"`
	PostgresDSN   string `yaml:"postgresDsn"`
	MongoURI      string `yaml:"mongoUri"`
	MongoDatabase string `yaml:"mongoDatabase"`
}

// CacheConfig selects the identity cache backend: memory or redis.
type CacheConfig struct {
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDb"`
}

// KafkaConfig enables the went-live event consumer when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"groupId"`
}

// MirrorConfig enables uploading finished segments to an S3-compatible store when Endpoint is set.
type MirrorConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSsl"`
}

type APIConfig struct {
	ListenAddr   string `yaml:"listenAddr"`
	RequestLimit int    `yaml:"requestLimit"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}
