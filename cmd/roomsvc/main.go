package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"

	config "github.com/avvvet/allocation-rooms/configs"
	nats "github.com/avvvet/allocation-rooms/internal/nats"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/broker"
	roomcfg "github.com/avvvet/allocation-rooms/internal/roomsvc/config"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/db"
	handlers "github.com/avvvet/allocation-rooms/internal/roomsvc/handlers"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/service"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/store"
	log "github.com/sirupsen/logrus"
)

const SERVICE_NAME = "room"

func main() {
	config.LoadEnv(SERVICE_NAME)

	cfg, err := roomcfg.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	instanceId := config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME+"_service", cfg.LogLevel, cfg.LogDir)

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreDriver, err)
	}
	defer st.Close()

	opts := cfg.BrokerOptions()

	// Connect to NATS
	if cfg.NatsURL != "" {
		n, err := nats.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"_service_"+instanceId)
		if err != nil {
			log.Fatalf("Error: unable to connect to NATS server %v", err)
		}
		defer n.Close()
		log.Printf("NATS connection established successfully %s", n.Url)
		opts.Relay = nats.NewRelay(n.Conn)
	}

	// init room event broker
	b := broker.NewBroker(opts)
	defer b.Close()

	roomService := service.NewRoomService(st, b, cfg.ServiceOptions())

	// Setup router
	r := chi.NewRouter()
	c := config.CORS(cfg.CORSOrigins)

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(roomService, handlers.Options{
		Port:           cfg.Port,
		InstanceID:     instanceId,
		SSEKeepAlive:   cfg.SSEKeepAlive,
		AllowedOrigins: cfg.CORSOrigins,
	})
	h.InitAuth(cfg.JWTSecret)
	h.SetRoutes(r)

	// WriteTimeout stays unset: event streams are long lived and the
	// REST routes carry their own timeout.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	// end streams first so Shutdown is not held open by them
	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}

func openStore(cfg roomcfg.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case roomcfg.DriverPostgres:
		if cfg.MigrateOnStart {
			if err := db.Migrate(cfg.DBUrl); err != nil {
				return nil, err
			}
		}
		pool, err := db.Connect(context.Background(), cfg.DBUrl)
		if err != nil {
			return nil, err
		}
		log.Printf("pg connection established successfully")
		return store.NewPGStore(pool), nil
	default:
		lite, err := store.OpenLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Printf("sqlite store opened at %s", cfg.SQLitePath)
		return lite, nil
	}
}
