// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Default platform endpoints and public client identifiers.
const (
	DefaultHelixURL       = "https://api.twitch.tv/helix"
	DefaultAuthURL        = "https://id.twitch.tv/oauth2/token"
	DefaultGQLURL         = "https://gql.twitch.tv/gql"
	DefaultLegacyAPIURL   = "https://api.twitch.tv/api"
	DefaultUsherURL       = "https://usher.ttvnw.net"
	DefaultPubSubURL      = "wss://pubsub-edge.twitch.tv/v1"
	DefaultChatURL        = "wss://irc-ws.chat.twitch.tv:443"
	DefaultGQLClientID    = "ue6666qo983tsx6so1t0vnawi233wa"
	DefaultLegacyClientID = "kimne78kx3ncx6brgo4mv6wki5h1ko"
)

// Defaults returns the configuration used when neither file nor environment set a value.
func Defaults() AppConfig {
	return AppConfig{
		DataDir: "data",
		Log: LogConfig{
			Level:   "info",
			Service: "streamkeeper",
		},
		Platform: PlatformConfig{
			GQLClientID:     DefaultGQLClientID,
			LegacyClientID:  DefaultLegacyClientID,
			HelixURL:        DefaultHelixURL,
			AuthURL:         DefaultAuthURL,
			GQLURL:          DefaultGQLURL,
			LegacyAPIURL:    DefaultLegacyAPIURL,
			UsherURL:        DefaultUsherURL,
			PubSubURL:       DefaultPubSubURL,
			ChatURL:         DefaultChatURL,
			Timeout:         10 * time.Second,
			MaxRetries:      2,
			Backoff:         250 * time.Millisecond,
			MaxBackoff:      2 * time.Second,
			RateLimit:       10,
			RateBurst:       5,
			BreakerFailures: 3,
			BreakerReset:    time.Minute,
		},
		Live: LiveConfig{
			SegmentAttempts:             15,
			IdleTimeout:                 30 * time.Second,
			DefaultRefresh:              2 * time.Second,
			CongestionDispatchLimit:     10,
			RefreshConcurrencyThreshold: 3,
			ResolveAttempts:             5,
			ResolveDelay:                2 * time.Second,
			StreamRecheckDelay:          10 * time.Minute,
			StreamPollInterval:          3 * time.Second,
			FilenamePadding:             5,
		},
		Vod: VodConfig{
			SegmentAttempts:    5,
			IdleTimeout:        30 * time.Second,
			Workers:            4,
			StreamWaitTimeout:  30 * time.Minute,
			StreamWaitInterval: 20 * time.Second,
			PollInterval:       time.Minute,
			DiscoveryTimeout:   30 * time.Minute,
			MatchWindow:        10 * time.Minute,
			MatchSkew:          time.Minute,
			GuessAttempts:      3,
			GuessBackoff:       time.Minute,
			PlaylistAttempts:   4,
			PlaylistDelay:      time.Second,
			UpdateInterval:     5 * time.Minute,
			DoneAfter:          20 * time.Minute,
			FilenamePadding:    5,
		},
		Stats: StatsConfig{
			Interval: time.Minute,
		},
		Journal: JournalConfig{
			Backend:       "none",
			MongoDatabase: "streamkeeper",
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     6 * time.Hour,
		},
		Kafka: KafkaConfig{
			Topic:   "streamkeeper.stream-events",
			GroupID: "streamkeeper",
		},
		Mirror: MirrorConfig{
			Bucket: "streamkeeper",
		},
		API: APIConfig{
			ListenAddr:   ":9480",
			RequestLimit: 120,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Environment:  "production",
		},
	}
}
