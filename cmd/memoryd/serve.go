package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kloros/memoryd/pkg/model"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the producer and reporting HTTP surface",
	Long: `Exposes event ingestion for producers and the stats/health/integrity
surface for the external reporting layer. POST /maintenance/run triggers one
cycle; callers must not overlap runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := chi.NewRouter()
		r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

		r.Post("/events", handleStoreEvent)
		r.Get("/events", handleListEvents)
		r.Post("/conversations", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, map[string]string{"conversation_id": uuid.NewString()})
		})

		r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
			stats, err := maintEng.GetComprehensiveStats(req.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, stats)
		})
		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			report, err := maintEng.GetHealthReport(req.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, report)
		})
		r.Get("/integrity", func(w http.ResponseWriter, req *http.Request) {
			issues, err := maintEng.ValidateDataIntegrity(req.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, issues)
		})
		r.Post("/integrity/fix", func(w http.ResponseWriter, req *http.Request) {
			rep, err := maintEng.FixIntegrityIssues(req.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, rep)
		})
		r.Get("/reflection", func(w http.ResponseWriter, _ *http.Request) {
			stats, err := maintEng.GetReflectionLogStats()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, stats)
		})
		r.Post("/maintenance/run", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, maintEng.RunDailyMaintenance(req.Context()))
		})
		r.Get("/export", func(w http.ResponseWriter, req *http.Request) {
			days := 7
			if v := req.URL.Query().Get("days"); v != "" {
				if n, err := strconv.Atoi(v); err == nil {
					days = n
				}
			}
			summary, err := maintEng.ExportMemorySummary(req.Context(), days)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, summary)
		})

		logger.Info("starting memoryd server", "addr", cfg.ListenAddr, "db", cfg.DBPath)
		return http.ListenAndServe(cfg.ListenAddr, r)
	},
}

func handleStoreEvent(w http.ResponseWriter, req *http.Request) {
	var e model.Event
	if err := json.NewDecoder(req.Body).Decode(&e); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := db.StoreEvent(req.Context(), e)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]int64{"id": id})
}

func handleListEvents(w http.ResponseWriter, req *http.Request) {
	q := model.EventQuery{}
	params := req.URL.Query()
	if v := params.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}
	if v := params.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Offset = n
		}
	}
	if v := params.Get("conversation_id"); v != "" {
		q.ConversationID = &v
	}
	if v := params.Get("event_type"); v != "" {
		t := model.EventType(v)
		q.Type = &t
	}

	events, err := db.GetEvents(req.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
