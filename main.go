package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-server/collab"
	"collab-server/config"
	"collab-server/core"
	"collab-server/handlers/api/rooms"
	"collab-server/handlers/binary"
	"collab-server/handlers/websocket"
	"collab-server/metrics"
	"collab-server/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func setupRouter(hub *collab.Hub, index core.RoomIndex, reg *prometheus.Registry, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	corsOptions := cors.Options{
		AllowedOrigins: []string{"tauri://localhost"},
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "" {
				return false
			}

			parsed, err := url.Parse(origin)
			if err != nil {
				return false
			}

			switch parsed.Scheme {
			case "http", "https":
				switch parsed.Hostname() {
				case "localhost", "127.0.0.1", "::1":
					return true
				}
			case "tauri":
				return parsed.Hostname() == "localhost"
			}

			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	r.Use(cors.Handler(corsOptions))

	r.Mount("/api/rooms", rooms.Router(hub, index))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]any{
			"status":      "ok",
			"connections": hub.ConnCount(),
		})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return r
}

func setupBinaryRouter(hub *collab.Hub, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()
	r.Handle("/*", binary.NewHandler(hub, binary.Options{
		PingInterval:   cfg.PingInterval,
		PingTimeout:    cfg.PingTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
	}))
	return r
}

// serve runs srv until ctx is done, then drains it.
func serve(ctx context.Context, srv *http.Server, name string) error {
	errC := make(chan error, 1)
	go func() {
		logrus.WithField("addr", srv.Addr).Infof("starting %s server", name)
		errC <- srv.ListenAndServe()
	}()

	select {
	case err := <-errC:
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server shutdown: %w", name, err)
	}
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	configPath := flag.String("config", os.Getenv("COLLAB_CONFIG"), "Path to a YAML config file")
	logLevel := flag.String("loglevel", "", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", "", "Set the event gateway and API listen address")
	binaryAddr := flag.String("binary-listen", "", "Set the binary relay listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if *binaryAddr != "" {
		cfg.BinaryListen = *binaryAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	index, err := stores.GetRoomIndex(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up room index")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := collab.NewHub(collab.Options{
		OutboundQueue: cfg.OutboundQueue,
		MaxLogEntries: cfg.MaxLogEntries,
		RoomIdleTTL:   cfg.RoomIdleTTL,
		ReapInterval:  cfg.ReapInterval,
		Index:         index,
		Metrics:       metrics.New(reg),
	})

	r := setupRouter(hub, index, reg, cfg.AllowedOrigins)
	ioo := websocket.SetupSocketIO(hub, websocket.Options{
		PingInterval:   cfg.PingInterval,
		PingTimeout:    cfg.PingTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(ctx, &http.Server{Addr: cfg.Listen, Handler: r}, "event")
	})
	g.Go(func() error {
		return serve(ctx, &http.Server{Addr: cfg.BinaryListen, Handler: setupBinaryRouter(hub, cfg)}, "binary")
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	logrus.Debug("Server is running in the background")
	err = g.Wait()
	logrus.Info("Shutting down...")

	ioo.Close(nil)
	err = multierr.Append(err, hub.Close())
	if closer, ok := index.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}
	if err != nil {
		logrus.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}
