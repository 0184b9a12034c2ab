package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/tuniway/relay/internal/agent"
	"github.com/tuniway/relay/internal/auth"
	"github.com/tuniway/relay/internal/bus"
	"github.com/tuniway/relay/internal/chat"
	"github.com/tuniway/relay/internal/history"
	"github.com/tuniway/relay/internal/httpapi"
	"github.com/tuniway/relay/internal/messaging"
	"github.com/tuniway/relay/internal/metrics"
	"github.com/tuniway/relay/internal/protocol"
	"github.com/tuniway/relay/internal/ratelimit"
	"github.com/tuniway/relay/internal/relay"
	"github.com/tuniway/relay/internal/rules"
	"github.com/tuniway/relay/internal/session"
	"github.com/tuniway/relay/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- Agent bridge ---
	agentConfig := agent.DefaultConfig()
	if v := os.Getenv("CHATBOT_URL"); v != "" {
		agentConfig.BaseURL = v
	}
	if v := os.Getenv("CHATBOT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			agentConfig.Timeout = d
		}
	}
	bridge := agent.NewBridge(agentConfig)

	// --- Relay dispatcher ---
	relayConfig := relay.DefaultConfig()
	if v := os.Getenv("BOT_NAME"); v != "" {
		relayConfig.BotName = v
	}
	if v := os.Getenv("AGENT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			relayConfig.Workers = n
		}
	}
	if v := os.Getenv("AGENT_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			relayConfig.QueueSize = n
		}
	}

	historyCapacity := history.DefaultCapacity
	if v := os.Getenv("HISTORY_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			historyCapacity = n
		}
	}

	eventBus := bus.New()
	hist := history.NewBuffer(historyCapacity)
	sessions := session.NewRegistry()
	relayDispatcher := relay.NewDispatcher(relayConfig, eventBus, hist, sessions, bridge)

	// --- NATS (optional) ---
	var natsClient *messaging.Client
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = natsURL

		var err error
		natsClient, err = messaging.NewClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}

		// Mirror every broadcast event onto the platform event stream.
		eventBus.Subscribe(bus.TopicBroadcast, func(ev chat.Event) {
			data, err := protocol.MarshalEvent(ev)
			if err != nil {
				return
			}
			if err := natsClient.PublishEvent(data); err != nil {
				log.Printf("nats mirror publish failed: %v", err)
			}
		})

		// Accept history replay commands from back-office tools.
		if err := natsClient.SubscribeHistoryReplay(func(data []byte) {
			_, ev, err := protocol.ParseClientMessage(data)
			if err != nil {
				log.Printf("history replay: bad payload: %v", err)
				return
			}
			if err := chat.ValidateEvent(ev); err != nil {
				log.Printf("history replay: invalid event: %v", err)
				return
			}
			ev.Stamp()
			hist.Append(ev)
			metrics.HistorySize.Set(float64(hist.Len()))
		}); err != nil {
			log.Printf("history replay subscribe failed: %v", err)
		}
	}

	// --- Redis rate limiting (optional) ---
	var limiter *ratelimit.Limiter
	var redisClient *redis.Client
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		limiter = ratelimit.NewLimiter(redisClient)
	}

	// --- PostgreSQL deletion checks (optional) ---
	var db *sql.DB
	var chain *rules.Chain
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		migrationsDir := "migrations"
		if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
			migrationsDir = v
		}
		if err := rules.RunMigrations(databaseURL, migrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}

		var err error
		db, err = sql.Open("postgres", databaseURL)
		if err != nil {
			log.Fatalf("failed to open PostgreSQL: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("failed to connect to PostgreSQL: %v", err)
		}
		chain = rules.NewChain(rules.NewPostgresStats(db))
	}

	// --- Admin tokens (optional) ---
	var tokens *auth.TokenService
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		tokens = auth.NewTokenService(secret)
	}

	log.Printf("TuniWay chat relay starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  chatbot_url:     %s", agentConfig.BaseURL)
	log.Printf("  chatbot_timeout: %s", agentConfig.Timeout)
	log.Printf("  bot_name:        %s", relayConfig.BotName)
	log.Printf("  agent_workers:   %d", relayConfig.Workers)
	log.Printf("  agent_queue:     %d", relayConfig.QueueSize)
	log.Printf("  history_cap:     %d", historyCapacity)
	log.Printf("  nats:            %v", natsClient != nil)
	log.Printf("  redis:           %v", limiter != nil)
	log.Printf("  postgres:        %v", chain != nil)

	// Declare server early so closures can capture it.
	var server *ws.Server

	wsDispatcher := ws.NewMessageDispatcher(nil)

	// sendEvent serializes and delivers one event to a connection. Delivery
	// failures are logged; the read path notices dead connections.
	sendEvent := func(connID string, ev chat.Event) {
		data, err := protocol.MarshalEvent(ev)
		if err != nil {
			log.Printf("marshal event for conn=%s failed: %v", connID, err)
			return
		}
		if err := server.SendMessage(connID, data); err != nil {
			log.Printf("deliver event to conn=%s failed: %v", connID, err)
		}
	}

	sendError := func(conn *ws.Connection, code, message string) {
		data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code:    code,
			Message: message,
		})
		if err != nil {
			return
		}
		if err := conn.WriteMessage(data); err != nil {
			log.Printf("send error to conn=%s failed: %v", conn.ID, err)
		}
	}

	// -----------------------------------------------------------------------
	// join: bind display name, announce, open the private queue
	// -----------------------------------------------------------------------
	wsDispatcher.Register(protocol.TypeJoin, func(conn *ws.Connection, ev chat.Event) {
		previous, wasBound := sessions.Lookup(conn.ID)

		if err := relayDispatcher.Dispatch(conn.ID, ev); err != nil {
			sendError(conn, "invalid_event", err.Error())
			return
		}

		// Subscribe the connection to its private queue. A rejoin under the
		// same name keeps the existing subscription.
		if wasBound && previous == ev.Sender {
			return
		}
		sub := eventBus.Subscribe(bus.PrivateTopic(ev.Sender), func(ev chat.Event) {
			sendEvent(conn.ID, ev)
		})
		conn.AddSubscription(sub)
	})

	// -----------------------------------------------------------------------
	// message: broadcast to the room, forward to the agent
	// -----------------------------------------------------------------------
	wsDispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, ev chat.Event) {
		if limiter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			allowed, _ := limiter.Allow(ctx, conn.ID, ratelimit.RuleMessage)
			cancel()
			if !allowed {
				sendError(conn, "rate_limited", "too many messages, slow down")
				return
			}
		}

		if err := relayDispatcher.Dispatch(conn.ID, ev); err != nil {
			sendError(conn, "invalid_event", err.Error())
		}
	})

	// -----------------------------------------------------------------------
	// private: deliver to one user's queue
	// -----------------------------------------------------------------------
	wsDispatcher.Register(protocol.TypePrivate, func(conn *ws.Connection, ev chat.Event) {
		if err := relayDispatcher.Dispatch(conn.ID, ev); err != nil {
			sendError(conn, "invalid_event", err.Error())
		}
	})

	// -----------------------------------------------------------------------
	// typing: relay the indicator, no persistence
	// -----------------------------------------------------------------------
	wsDispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, ev chat.Event) {
		if err := relayDispatcher.Dispatch(conn.ID, ev); err != nil {
			sendError(conn, "invalid_event", err.Error())
		}
	})

	server = ws.NewServer(config, sessions, wsDispatcher.Dispatch)
	wsDispatcher.SetServer(server)

	if limiter != nil {
		server.SetUpgradeGate(func(r *http.Request) bool {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			allowed, _ := limiter.Allow(ctx, host, ratelimit.RuleConnect)
			return allowed
		})
	}

	// Every connection sees the room broadcast and typing indicators from the
	// moment it connects; history and names come with join.
	server.SetOnConnect(func(conn *ws.Connection) {
		broadcastSub := eventBus.Subscribe(bus.TopicBroadcast, func(ev chat.Event) {
			sendEvent(conn.ID, ev)
		})
		conn.AddSubscription(broadcastSub)

		typingSub := eventBus.Subscribe(bus.TopicTyping, func(ev chat.Event) {
			sendEvent(conn.ID, ev)
		})
		conn.AddSubscription(typingSub)

		// Replay buffered history so the new client catches up.
		for _, ev := range hist.Snapshot() {
			sendEvent(conn.ID, ev)
		}
	})

	server.SetOnDisconnect(func(connID string) {
		if name, ok := sessions.Lookup(connID); ok {
			log.Printf("disconnect cleanup conn=%s name=%s", connID, name)
		}
	})

	// REST API and metrics share the WebSocket server's mux.
	api := httpapi.New(hist, bridge, chain, tokens)
	server.SetExtraRoutes(func(mux *http.ServeMux) {
		api.Mount(mux)
		mux.Handle("/metrics", metrics.Handler())
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if natsClient != nil {
			natsClient.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		relayDispatcher.Close()
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}
		if db != nil {
			if err := db.Close(); err != nil {
				log.Printf("postgres close error: %v", err)
			}
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
