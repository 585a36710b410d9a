package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sector-scout/internal/monitoring"
	"github.com/sells-group/sector-scout/internal/store"
	"github.com/sells-group/sector-scout/internal/stream"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the research API server and stage workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Queues.Start(ctx); err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		checker := monitoring.NewChecker(env.Collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
		g.Go(func() error {
			runRetentionSweeps(gctx, env)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
			return env.Queues.Shutdown(shutCtx)
		})

		return g.Wait()
	},
}

// runRetentionSweeps purges completed job records once a day.
func runRetentionSweeps(ctx context.Context, env *scoutEnv) {
	if cfg.Retention.JobStatusDays <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := env.Tracker.PurgeOlderThan(ctx, cfg.Retention.JobStatusDays); err != nil {
				zap.L().Warn("retention sweep failed", zap.Error(err))
			}
		}
	}
}

// newRouter builds the HTTP API. Handlers stay thin; orchestration lives
// in the worker package.
func newRouter(env *scoutEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		snap, err := env.Collector.Collect(r.Context(), cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "collect metrics")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/research", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Sector  string `json:"sector"`
				OwnerID string `json:"ownerId"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			sa, err := env.Pipeline.SubmitSector(req.Context(), body.OwnerID, body.Sector)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, sa)
		})

		r.Get("/research/{id}", func(w http.ResponseWriter, req *http.Request) {
			tree, err := env.Store.GetSectorAnalysisTree(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, tree)
		})

		r.Get("/research/{id}/jobs", func(w http.ResponseWriter, req *http.Request) {
			tree, err := env.Store.GetSectorAnalysisTree(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeStoreError(w, err)
				return
			}
			ids := []string{tree.ID}
			for _, ss := range tree.SubSectors {
				ids = append(ids, ss.ID)
				for _, st := range ss.Stocks {
					ids = append(ids, st.ID)
					if st.Analysis != nil {
						ids = append(ids, st.Analysis.ID)
					}
				}
			}
			jobs, err := env.Tracker.ListByRelatedSet(req.Context(), ids)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "list jobs")
				return
			}
			writeJSON(w, http.StatusOK, jobs)
		})

		r.Get("/research/{id}/stream", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			if _, err := env.Store.GetSectorAnalysis(req.Context(), id); err != nil {
				writeStoreError(w, err)
				return
			}
			stream.WriteSSE(w, req, env.Publisher.Stream(req.Context(), id))
		})

		r.Post("/sub-sectors/{id}/approve", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			if err := env.Pipeline.ApproveSubSector(req.Context(), id); err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "approved"})
		})

		r.Post("/stocks/{id}/analyze", func(w http.ResponseWriter, req *http.Request) {
			a, err := env.Pipeline.RetriggerAnalysis(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, a)
		})

		r.Get("/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
			js, err := env.Tracker.Get(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, js)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps missing entities to 404 and everything else to a
// conflict-style 422, which covers the invalid-transition errors the
// pipeline returns.
func writeStoreError(w http.ResponseWriter, err error) {
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusUnprocessableEntity, err.Error())
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
