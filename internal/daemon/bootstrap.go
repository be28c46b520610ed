// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the configured channels to their recorders and runs the ops server.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/ManuGH/streamkeeper/internal/archive"
	"github.com/ManuGH/streamkeeper/internal/cache"
	"github.com/ManuGH/streamkeeper/internal/config"
	"github.com/ManuGH/streamkeeper/internal/health"
	"github.com/ManuGH/streamkeeper/internal/journal"
	"github.com/ManuGH/streamkeeper/internal/lifecycle"
	"github.com/ManuGH/streamkeeper/internal/live"
	"github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/platform/httpx"
	"github.com/ManuGH/streamkeeper/internal/resolver"
	"github.com/ManuGH/streamkeeper/internal/segment"
	"github.com/ManuGH/streamkeeper/internal/telemetry"
	"github.com/ManuGH/streamkeeper/internal/twitch"
	"github.com/ManuGH/streamkeeper/internal/vod"
	"github.com/ManuGH/streamkeeper/internal/ws"
)

// services are the process-wide collaborators shared by every channel.
type services struct {
	client   *twitch.Client
	resolver *resolver.Resolver
	liveGet  *segment.Fetcher
	vodGet   *segment.Fetcher
	journal  *journal.Handle
	vod      *vod.Supervisor
}

// ChannelLayout returns the archive layout of one channel under dataDir.
func ChannelLayout(dataDir, channel string) archive.Layout {
	return archive.Layout{Root: filepath.Join(dataDir, strings.ToLower(channel))}
}

// Bootstrap builds the full runtime for cfg. On error every resource opened so far is released.
func Bootstrap(ctx context.Context, cfg config.AppConfig, serverCfg ServerConfig) (app *App, err error) {
	logger := log.WithComponent("daemon")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return nil, err
	}

	var hooks []namedHook
	hook := func(name string, fn ShutdownHook) { hooks = append(hooks, namedHook{name: name, hook: fn}) }
	defer func() {
		if err == nil {
			return
		}
		for i := len(hooks) - 1; i >= 0; i-- {
			_ = hooks[i].hook(context.WithoutCancel(ctx))
		}
	}()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Log.Service,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	hook("telemetry", tp.Shutdown)

	identities, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	hook("cache", func(context.Context) error { return identities.Close() })

	svc := services{}
	svc.client = twitch.NewClient(twitch.Options{
		HelixURL:        cfg.Platform.HelixURL,
		AuthURL:         cfg.Platform.AuthURL,
		GQLURL:          cfg.Platform.GQLURL,
		LegacyAPIURL:    cfg.Platform.LegacyAPIURL,
		UsherURL:        cfg.Platform.UsherURL,
		ClientID:        cfg.Platform.ClientID,
		ClientSecret:    cfg.Platform.ClientSecret,
		OAuthVideo:      cfg.Platform.OAuthVideo,
		GQLClientID:     cfg.Platform.GQLClientID,
		LegacyClientID:  cfg.Platform.LegacyClientID,
		Timeout:         cfg.Platform.Timeout,
		MaxRetries:      cfg.Platform.MaxRetries,
		Backoff:         cfg.Platform.Backoff,
		MaxBackoff:      cfg.Platform.MaxBackoff,
		RateLimit:       rate.Limit(cfg.Platform.RateLimit),
		RateLimitBurst:  cfg.Platform.RateBurst,
		UserAgent:       "streamkeeper/" + cfg.Version,
		BreakerFailures: cfg.Platform.BreakerFailures,
		BreakerReset:    cfg.Platform.BreakerReset,
		Cache:           identities,
		CacheTTL:        cfg.Cache.TTL,
	})
	svc.resolver = resolver.New(svc.client, resolver.Options{
		Attempts:      cfg.Live.ResolveAttempts,
		Delay:         cfg.Live.ResolveDelay,
		GuessAttempts: cfg.Vod.GuessAttempts,
		GuessBackoff:  cfg.Vod.GuessBackoff,
	})

	var mirror segment.Mirror
	if cfg.Mirror.Endpoint != "" {
		m, err := archive.NewMirror(ctx, cfg.DataDir, archive.MirrorConfig{
			Endpoint:  cfg.Mirror.Endpoint,
			AccessKey: cfg.Mirror.AccessKey,
			SecretKey: cfg.Mirror.SecretKey,
			Bucket:    cfg.Mirror.Bucket,
			UseSSL:    cfg.Mirror.UseSSL,
		}, log.WithComponent("mirror"))
		if err != nil {
			return nil, err
		}
		mirror = m
	}

	transfers := httpx.NewStreamingClient()
	svc.liveGet = segment.New(transfers, segment.Options{
		Attempts:    cfg.Live.SegmentAttempts,
		IdleTimeout: cfg.Live.IdleTimeout,
		Kind:        "live",
		Mirror:      mirror,
	})
	svc.vodGet = segment.New(transfers, segment.Options{
		Attempts:    cfg.Vod.SegmentAttempts,
		IdleTimeout: cfg.Vod.IdleTimeout,
		Kind:        "vod",
		Mirror:      mirror,
	})

	svc.journal, err = journal.Open(ctx, journal.Config{
		Backend:       cfg.Journal.Backend,
		SQLitePath:    cfg.Journal.SQLitePath,
		PostgresDSN:   cfg.Journal.PostgresDSN,
		MongoURI:      cfg.Journal.MongoURI,
		MongoDatabase: cfg.Journal.MongoDatabase,
	})
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	hook("journal", func(context.Context) error { return svc.journal.Close() })

	svc.vod = vod.NewSupervisor(vodFactory(cfg, svc), svc.client, vod.SupervisorOptions{
		StreamWaitTimeout:  cfg.Vod.StreamWaitTimeout,
		StreamPollInterval: cfg.Vod.StreamWaitInterval,
	})

	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewWritableDirChecker("archive", cfg.DataDir))
	if svc.journal != nil {
		hm.RegisterChecker(health.NewPingChecker("journal", svc.journal.Ping))
	}
	if p, ok := identities.(interface{ Ping(context.Context) error }); ok {
		hm.RegisterChecker(health.Informational(health.NewPingChecker("cache", p.Ping)))
	}

	var publisher *lifecycle.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = lifecycle.NewKafkaPublisher(kafkaConfig(cfg.Kafka))
		hook("kafka-publisher", func(context.Context) error { return publisher.Close() })
	}

	app = NewApp(logger, nil)
	app.vod = svc.vod
	if publisher != nil {
		app.publisher = publisher
	}

	names := make([]string, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		app.addChannel(buildChannel(cfg, ch, svc))
		names = append(names, ch.Name)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		app.remote = append(app.remote, lifecycle.NewKafkaSource(kafkaConfig(cfg.Kafka), names))
	}

	mgr, err := NewManager(serverCfg, Deps{
		Logger:     logger,
		APIHandler: newRouter(hm, app, cfg.API.RequestLimit),
	})
	if err != nil {
		return nil, err
	}
	for _, h := range hooks {
		mgr.RegisterShutdownHook(h.name, h.hook)
	}
	mgr.RegisterShutdownHook("recorders", app.drain)
	app.manager = mgr

	logger.Info().
		Int("channels", len(cfg.Channels)).
		Str("journal", svc.journal.Backend()).
		Bool("mirror", mirror != nil).
		Bool("kafka", len(cfg.Kafka.Brokers) > 0).
		Msg("daemon bootstrapped")
	return app, nil
}

func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	return cache.Open(ctx, cache.Config{
		Backend: cfg.Backend,
		TTL:     cfg.TTL,
		Redis: cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
	}, log.WithComponent("cache"))
}

func kafkaConfig(cfg config.KafkaConfig) lifecycle.KafkaConfig {
	return lifecycle.KafkaConfig{Brokers: cfg.Brokers, Topic: cfg.Topic, GroupID: cfg.GroupID}
}

// vodFactory builds a recorder per discovered stream, archiving under the streamer's channel root.
func vodFactory(cfg config.AppConfig, svc services) vod.Factory {
	return func(stream twitch.Stream) vod.Runner {
		return vod.New(vod.Deps{
			Platform: svc.client,
			Resolver: svc.resolver,
			Fetcher:  svc.vodGet,
			Journal:  svc.journal,
		}, stream, vod.Options{
			Layout:             ChannelLayout(cfg.DataDir, stream.UserLogin),
			FilenamePadding:    cfg.Vod.FilenamePadding,
			Workers:            cfg.Vod.Workers,
			VodPollInterval:    cfg.Vod.PollInterval,
			VodWaitTimeout:     cfg.Vod.DiscoveryTimeout,
			MatchWindow:        cfg.Vod.MatchWindow,
			MatchSkew:          cfg.Vod.MatchSkew,
			UpdateInterval:     cfg.Vod.UpdateInterval,
			InactivityTimeout:  cfg.Vod.DoneAfter,
			PlaylistAttempts:   cfg.Vod.PlaylistAttempts,
			PlaylistRetryDelay: cfg.Vod.PlaylistDelay,
		})
	}
}

func buildChannel(cfg config.AppConfig, ch config.ChannelConfig, svc services) *channelRuntime {
	rt := newChannelRuntime(ch)
	layout := ChannelLayout(cfg.DataDir, ch.Name)

	if ch.Has(config.ComponentVideo) {
		rt.live = live.New(live.Deps{
			Resolver:  svc.resolver,
			Playlists: svc.client,
			Status:    svc.client,
			Fetcher:   svc.liveGet,
			Journal:   svc.journal,
		}, live.Options{
			Channel:                     ch.Name,
			Layout:                      layout,
			FilenamePadding:             cfg.Live.FilenamePadding,
			DefaultRefresh:              cfg.Live.DefaultRefresh,
			CongestionDispatchLimit:     cfg.Live.CongestionDispatchLimit,
			RefreshConcurrencyThreshold: cfg.Live.RefreshConcurrencyThreshold,
			StreamPollInterval:          cfg.Live.StreamPollInterval,
			StreamRecheckDelay:          cfg.Live.StreamRecheckDelay,
		})
	}
	if ch.Has(config.ComponentVod) {
		rt.vod = svc.vod
	}

	// The status poller is the baseline went-live trigger and also keeps the stream stats.
	if ch.Has(config.ComponentVideo) || ch.Has(config.ComponentVod) || ch.Has(config.ComponentStats) {
		rt.sources = append(rt.sources, lifecycle.NewPoller(svc.client, lifecycle.PollerOptions{
			Channel:    ch.Name,
			Interval:   cfg.Stats.Interval,
			WriteStats: ch.Has(config.ComponentStats),
			Layout:     layout,
		}))
	}
	if ch.Has(config.ComponentEvents) {
		rt.sources = append(rt.sources, &lifecycle.PubSubSource{
			Channel:  ch.Name,
			Identity: svc.client,
			Events:   archive.NewDailyLog(layout, archive.KindEvents, nil),
			Options:  ws.Options{URL: cfg.Platform.PubSubURL},
		})
	}
	if ch.Has(config.ComponentChat) {
		rt.tasks = append(rt.tasks, &chatTask{
			log: archive.NewDailyLog(layout, archive.KindChat, nil),
			driver: func(l ws.LineWriter) runner {
				return ws.NewDriver("chat", &ws.Chat{
					Channel:  ch.Name,
					Username: cfg.Platform.Username,
					OAuth:    cfg.Platform.OAuth,
				}, ws.Options{URL: cfg.Platform.ChatURL, Log: l})
			},
		})
	}
	return rt
}

// chatTask runs the chat driver and closes its daily log afterwards.
type chatTask struct {
	log    *archive.DailyLog
	driver func(ws.LineWriter) runner
}

func (c *chatTask) Run(ctx context.Context) error {
	defer func() { _ = c.log.Close() }()
	return c.driver(c.log).Run(ctx)
}

// WaitForShutdown returns a context cancelled on interrupt/termination signals.
func WaitForShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
