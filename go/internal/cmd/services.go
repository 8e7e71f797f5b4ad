package main

import (
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"

	"github.com/dibslive/dibs/go/internal/admin"
	"github.com/dibslive/dibs/go/internal/eventcfg"
	"github.com/dibslive/dibs/go/internal/room/arbiter"
	"github.com/dibslive/dibs/go/internal/room/auction"
	"github.com/dibslive/dibs/go/internal/room/chat"
	"github.com/dibslive/dibs/go/internal/room/events"
	"github.com/dibslive/dibs/go/internal/room/gateway"
	"github.com/dibslive/dibs/go/internal/room/history"
	"github.com/dibslive/dibs/go/internal/room/ledger"
	"github.com/dibslive/dibs/go/internal/room/moderation"
	"github.com/dibslive/dibs/go/internal/room/presence"
	"github.com/dibslive/dibs/go/internal/room/timer"
	"github.com/dibslive/dibs/go/internal/store"
)

// Services holds the wired application graph.
type Services struct {
	Store             store.Store
	RedisStore        *store.RedisStore
	Timer             *timer.Timer
	Auction           *auction.App
	Gateway           *gateway.Service
	ConnectionManager *gateway.ConnectionManager
	WebSocketHandler  *gateway.WebSocketHandler
	EventConsumer     *gateway.EventConsumer
	Admin             *admin.Handler
}

// setupServices wires the dependency chain:
// store → room components → state machine → gateway.
func setupServices(database *sql.DB, nc *nats.Conn, config *Config) (*Services, error) {
	clock := clockwork.NewRealClock()

	redisStore, err := store.NewRedisStore(store.RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvAsInt("REDIS_DB", 0),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect room store: %w", err)
	}

	publisher, err := events.NewPublisher(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	// Room components
	chatLog := chat.NewLog(redisStore, publisher, clock)
	bidLedger := ledger.New(redisStore)
	priceArbiter := arbiter.New(redisStore)
	auctionTimer := timer.New(redisStore, clock, config.timerConfig())
	historyRepo := history.NewRepository(database)
	tracker := presence.NewTracker(redisStore, publisher, clock)
	mod := moderation.NewService(redisStore, publisher)
	cfgManager := eventcfg.NewManager(redisStore)

	// State machine; binds itself to the timer as settler
	app := auction.NewApp(redisStore, priceArbiter, bidLedger, auctionTimer, historyRepo, chatLog, publisher, clock, config.auctionConfig())

	// Gateway
	sessions := gateway.NewSessionValidator(redisStore)
	stateProvider := gateway.NewStateProvider(redisStore, app, tracker, chatLog)
	gatewayService := gateway.NewService(app, chatLog, mod, stateProvider, sessions, clock)

	connManager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	wsHandler := gateway.NewWebSocketHandler(connManager, gatewayService, tracker)

	consumerConfig := gateway.DefaultJetStreamConsumerConfig()
	consumerConfig.URL = getEnv("NATS_URL", nats.DefaultURL)
	consumer, err := gateway.NewEventConsumer(connManager, stateProvider, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	return &Services{
		Store:             redisStore,
		RedisStore:        redisStore,
		Timer:             auctionTimer,
		Auction:           app,
		Gateway:           gatewayService,
		ConnectionManager: connManager,
		WebSocketHandler:  wsHandler,
		EventConsumer:     consumer,
		Admin:             admin.NewHandler(cfgManager, historyRepo),
	}, nil
}
