// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"partyhub/internal/ai"
	"partyhub/internal/auth"
	"partyhub/internal/config"
	"partyhub/internal/game"
	"partyhub/internal/games/categories"
	"partyhub/internal/games/sketch"
	"partyhub/internal/hub"
	"partyhub/internal/metrics"
	"partyhub/internal/middleware"
	"partyhub/internal/session"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	auth.Init()

	clock := clockwork.NewRealClock()
	sessions := session.NewRegistry(clock, cfg.GraceWindow, cfg.CodeLength, logger)
	games := game.NewRegistry()

	// One broadcast path for everything: timer ticks, AI continuations and
	// action handlers all push full snapshots the same way.
	broadcast := func(s *session.Session) { s.Broadcast() }

	var aiClient *ai.Client
	if cfg.AIBaseURL != "" {
		aiClient = ai.NewClient(cfg.AIBaseURL, cfg.AITimeout, logger)
		logger.Infof("AI collaborator enabled at %s", cfg.AIBaseURL)
	} else {
		logger.Info("AI collaborator disabled (AI_BASE_URL unset)")
	}

	catCfg := categories.Config{
		SubmitSeconds:      cfg.SubmitSeconds,
		RevealSeconds:      cfg.RevealSeconds,
		VoteSeconds:        cfg.VoteSeconds,
		ResultDwellSeconds: cfg.ResultDwellSeconds,
		CategoriesPerRound: cfg.CategoriesPerRound,
		PointsPerWord:      cfg.PointsPerWord,
	}
	sketchCfg := sketch.DefaultConfig()
	sketchCfg.DrawSeconds = cfg.DrawSeconds

	if aiClient != nil {
		games.Register(categories.Info(), categories.New(catCfg, clock, logger, aiClient, aiClient, broadcast))
		games.Register(sketch.Info(), sketch.New(sketchCfg, clock, logger, aiClient, aiClient, broadcast))
	} else {
		// Categories degrades gracefully without a collaborator; sketch
		// needs a judge, so it stays out of the catalog.
		games.Register(categories.Info(), categories.New(catCfg, clock, logger, nil, nil, broadcast))
	}

	h := hub.New(logger, sessions, games)
	sessions.OnEvict = h.EndEvicted

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sessions.RunSweeper(ctx, cfg.SweepInterval)

	mux := http.NewServeMux()
	mux.Handle("/ws/presenter", middleware.LogMiddleware(logger)(h.PresenterHandler()))
	mux.Handle("/ws/participant", middleware.LogMiddleware(logger)(h.ParticipantHandler()))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("partyhub listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server exited: %v", err)
	}
}
