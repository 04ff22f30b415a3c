package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cowrite-server/access"
	"cowrite-server/config"
	"cowrite-server/core"
	"cowrite-server/handlers/api/documents"
	"cowrite-server/handlers/api/versions"
	"cowrite-server/handlers/auth"
	"cowrite-server/handlers/websocket"
	authmw "cowrite-server/middleware"
	"cowrite-server/relay"
	"cowrite-server/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

func corsOptions(extraOrigins []string) cors.Options {
	allowed := make(map[string]bool, len(extraOrigins))
	for _, origin := range extraOrigins {
		allowed[origin] = true
	}

	return cors.Options{
		AllowedOrigins: append([]string{"tauri://localhost"}, extraOrigins...),
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "" {
				return false
			}
			if allowed[origin] {
				return true
			}

			parsed, err := url.Parse(origin)
			if err != nil {
				return false
			}

			switch parsed.Scheme {
			case "http", "https":
				switch parsed.Hostname() {
				case "localhost", "127.0.0.1", "[::1]", "::1":
					return true
				}
			case "tauri":
				return parsed.Hostname() == "localhost"
			}

			return false
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func setupRouter(cfg config.Config, store core.DocumentStore, gate *access.Gate, svc *relay.Service, verifier *auth.Verifier) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(cors.Handler(corsOptions(cfg.CORSOrigins)))

	r.Group(func(r chi.Router) {
		r.Use(authmw.Authenticate(verifier))

		var perDocument []func(chi.Router)
		if versionStore, ok := store.(versions.VersionStore); ok {
			perDocument = append(perDocument, func(r chi.Router) {
				r.Mount("/versions", versions.DocumentRoutes(versionStore, gate, svc))
			})
			r.Mount("/api/versions", versions.Routes(versionStore, gate, svc))
			logrus.Info("Version API routes registered")
		} else {
			logrus.Warn("Version API not available - requires SQLite storage")
		}

		r.Mount("/api/documents", documents.Routes(store, gate, svc, perDocument...))
	})

	r.Get("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, svc.Rooms())
	})

	return r
}

type closer interface {
	Close() error
}

func waitForShutdown(ioo *socketio.Server, svc *relay.Service, store core.DocumentStore) {
	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")
	ioo.Close(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		logrus.WithError(err).Error("Failed to flush documents on shutdown")
	}
	if c, ok := store.(closer); ok {
		if err := c.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close store")
		}
	}
	os.Exit(0)
}

func main() {
	// Define a log level flag
	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	flag.Parse()

	// Set the log level
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment")
	}
	cfg := config.Load()

	store, err := stores.GetStore(context.Background(), cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open document store")
	}
	if cfg.JWTSecret == "" {
		logrus.Warn("JWT_SECRET is not set, every client is anonymous")
	}

	gate := access.NewGate(store)
	verifier := auth.NewVerifier(cfg.JWTSecret)
	svc := relay.NewService(store, gate, relay.Options{
		SaveInterval: cfg.SaveInterval,
		StoreTimeout: cfg.StoreTimeout,
	})

	r := setupRouter(cfg, store, gate, svc, verifier)
	ioo := websocket.SetupSocketIO(svc, verifier, websocket.Options{
		MaxHttpBufferSize: cfg.MaxHttpBufferSize,
		AllowedOrigins:    cfg.CORSOrigins,
	})
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	svc.Start()

	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddr, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(ioo, svc, store)
}
