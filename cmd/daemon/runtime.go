// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"

	"github.com/ManuGH/watchrelay/internal/api"
	"github.com/ManuGH/watchrelay/internal/appmsg"
	"github.com/ManuGH/watchrelay/internal/bus"
	"github.com/ManuGH/watchrelay/internal/config"
	"github.com/ManuGH/watchrelay/internal/daemon"
	"github.com/ManuGH/watchrelay/internal/health"
	"github.com/ManuGH/watchrelay/internal/host"
	"github.com/ManuGH/watchrelay/internal/kv"
	"github.com/ManuGH/watchrelay/internal/relay"
)

// runtime is the wired relay: store, bus, host adapters and HTTP surface.
type runtime struct {
	store      kv.Store
	bus        bus.Bus
	relay      *relay.Relay
	dispatcher *host.Dispatcher
	hub        *host.Hub
	server     *api.Server
	health     *health.Manager
}

func buildRuntime(cfg config.AppConfig) (*runtime, error) {
	keys, err := appmsg.ParseAppKeys(cfg.AppKeys)
	if err != nil {
		return nil, err
	}

	store, err := kv.Open(cfg.Store.Backend, cfg.StoreDir(), kv.Options{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}

	b, err := bus.New(cfg.Bus.Backend, bus.RedisOptions{
		Addr:          cfg.Redis.Addr,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		ChannelPrefix: cfg.Bus.ChannelPrefix,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open bus: %w", err)
	}

	rt := &runtime{store: store, bus: b}
	rt.relay = relay.New(store, host.NewBusHost(b, keys, cfg.PublishTimeout),
		relay.WithConfigurationURL(cfg.ConfigurationURL))
	rt.dispatcher = host.NewDispatcher(0)
	rt.relay.Register(rt.dispatcher)
	rt.hub = host.NewHub(b, rt.dispatcher)

	rt.health = health.NewManager(cfg.Version)
	if p, ok := store.(kv.Pinger); ok {
		rt.health.RegisterChecker(health.NewStoreChecker("store", p))
	}
	rt.health.RegisterChecker(health.NewRelayChecker(func() string { return rt.relay.State().String() }))

	rt.server = api.New(api.Deps{
		Relay:      rt.relay,
		Dispatcher: rt.dispatcher,
		Hub:        rt.hub,
		Health:     rt.health,
	}, api.Config{
		RateLimitRPM:   cfg.RateLimitRPM,
		TracingService: cfg.TracingService,
	})
	return rt, nil
}

// registerShutdown closes components in reverse dependency order: links
// first, then the dispatcher, the bus and finally the store.
func (rt *runtime) registerShutdown(mgr daemon.Manager) {
	mgr.RegisterShutdownHook("store", func(context.Context) error { return rt.store.Close() })
	mgr.RegisterShutdownHook("bus", func(context.Context) error { return rt.bus.Close() })
	mgr.RegisterShutdownHook("dispatcher", func(context.Context) error { return rt.dispatcher.Close() })
	mgr.RegisterShutdownHook("hub", func(context.Context) error { return rt.hub.Close() })
}

// close releases everything without a manager, for setup failures and tests.
func (rt *runtime) close() {
	_ = rt.hub.Close()
	_ = rt.dispatcher.Close()
	_ = rt.bus.Close()
	_ = rt.store.Close()
}
