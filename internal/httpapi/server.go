// Package httpapi serves health, metrics and a JSON API over the engine.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"AlphaDrop/internal/engine"
	"AlphaDrop/internal/model"
	"AlphaDrop/internal/store"
	"AlphaDrop/internal/strategy"
)

type Server struct {
	engine   *engine.Engine
	gatherer prometheus.Gatherer
	router   *chi.Mux
	started  time.Time
}

// New builds the router. A nil gatherer leaves /metrics unmounted.
func New(eng *engine.Engine, gatherer prometheus.Gatherer) *Server {
	s := &Server{engine: eng, gatherer: gatherer, started: time.Now()}
	s.setupRouter()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/drops", func(r chi.Router) {
		r.Get("/", s.handleListDrops)
		r.Post("/", s.handleCreateDrop)
		r.Route("/{dropID}", func(r chi.Router) {
			r.Get("/", s.handleGetDrop)
			r.Get("/ranking", s.handleRanking)
			r.Post("/reservations", s.handleReserve)
			r.Delete("/reservations/{participantID}", s.handleCancelReservation)
			r.Post("/outcomes", s.handleOutcome)
			r.Post("/finalize", s.handleFinalize)
			r.Post("/cancel", s.handleCancelDrop)
		})
	})
	r.Route("/participants", func(r chi.Router) {
		r.Get("/", s.handleListParticipants)
		r.Get("/{participantID}", s.handleGetParticipant)
		r.Put("/{participantID}", s.handleUpdateParticipant)
		r.Get("/{participantID}/forecast", s.handleForecast)
		r.Get("/{participantID}/trust", s.handleTrustHistory)
	})
	s.router = r
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[INFO] http listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		<-errCh
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"time":   s.engine.Now(),
	})
}

func (s *Server) handleListDrops(w http.ResponseWriter, r *http.Request) {
	f := store.DropFilter{Status: model.DropStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	ds, err := s.engine.Drops(r.Context(), f)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"drops": ds, "count": len(ds)})
}

type createDropRequest struct {
	ScheduledAt  time.Time `json:"scheduled_at"`
	Requirement  int       `json:"requirement"`
	ReminderPlan []int     `json:"reminder_plan"`
	MaxSlots     int       `json:"max_slots"`
	ChatID       string    `json:"chat_id"`
	ThreadID     int64     `json:"thread_id"`
	Note         string    `json:"note"`
}

func (s *Server) handleCreateDrop(w http.ResponseWriter, r *http.Request) {
	var req createDropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	d, err := s.engine.CreateDrop(r.Context(), engine.DropRequest{
		ScheduledAt:  req.ScheduledAt,
		Requirement:  req.Requirement,
		ReminderPlan: req.ReminderPlan,
		MaxSlots:     req.MaxSlots,
		Audience:     model.Audience{ChatID: req.ChatID, ThreadID: req.ThreadID},
		Note:         req.Note,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDrop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "dropID")
	if !ok {
		return
	}
	d, err := s.engine.Drop(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

type candidateView struct {
	ParticipantID int64               `json:"participant_id"`
	Tag           string              `json:"tag"`
	Predicted     int                 `json:"predicted"`
	Eligible      bool                `json:"eligible"`
	Score         int                 `json:"score"`
	Factors       []model.FactorScore `json:"factors"`
}

func candidateViews(cands []strategy.Candidate) []candidateView {
	out := make([]candidateView, 0, len(cands))
	for _, c := range cands {
		out = append(out, candidateView{
			ParticipantID: c.Participant.ID,
			Tag:           c.Participant.Tag,
			Predicted:     c.Predicted,
			Eligible:      c.Eligible,
			Score:         c.Score,
			Factors:       c.Factors,
		})
	}
	return out
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "dropID")
	if !ok {
		return
	}
	d, cands, err := s.engine.RankDrop(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"drop_id":     d.ID,
		"requirement": d.Requirement,
		"candidates":  candidateViews(cands),
	})
}

type participantRequest struct {
	ParticipantID int64 `json:"participant_id"`
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "dropID")
	if !ok {
		return
	}
	var req participantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	d, err := s.engine.Reserve(r.Context(), id, req.ParticipantID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "dropID")
	if !ok {
		return
	}
	pid, ok := pathID(w, r, "participantID")
	if !ok {
		return
	}
	d, err := s.engine.CancelReservation(r.Context(), id, pid)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

type outcomeRequest struct {
	ParticipantID int64  `json:"participant_id"`
	Outcome       string `json:"outcome"` // picked | failed
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "dropID")
	if !ok {
		return
	}
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	var (
		d   *model.Drop
		err error
	)
	switch req.Outcome {
	case "picked":
		d, err = s.engine.RecordPickup(r.Context(), id, req.ParticipantID)
	case "failed":
		d, err = s.engine.RecordFailure(r.Context(), id, req.ParticipantID)
	default:
		respondError(w, http.StatusBadRequest, `outcome must be "picked" or "failed"`)
		return
	}
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "dropID")
	if !ok {
		return
	}
	res, err := s.engine.Finalize(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"drop":    res.Drop,
		"applied": res.Applied,
		"events":  res.Events,
	})
}

func (s *Server) handleCancelDrop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "dropID")
	if !ok {
		return
	}
	d, err := s.engine.CancelDrop(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	ps, err := s.engine.Participants(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"participants": ps, "count": len(ps)})
}

func (s *Server) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "participantID")
	if !ok {
		return
	}
	p, err := s.engine.Participant(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type updateParticipantRequest struct {
	Tag            string `json:"tag"`
	Rate           *int   `json:"rate"`
	Points         *int   `json:"points"`
	ReportedPickup string `json:"reported_pickup"` // YYYY-MM-DD
}

func (s *Server) handleUpdateParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "participantID")
	if !ok {
		return
	}
	var req updateParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	u := engine.ProfileUpdate{ID: id, Tag: req.Tag, Rate: req.Rate, Points: req.Points}
	if req.ReportedPickup != "" {
		day, err := time.ParseInLocation("2006-01-02", req.ReportedPickup, s.engine.Location())
		if err != nil {
			respondError(w, http.StatusBadRequest, "reported_pickup must be YYYY-MM-DD")
			return
		}
		u.ReportedPickup = &day
	}
	p, err := s.engine.UpdateProfile(r.Context(), u)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "participantID")
	if !ok {
		return
	}
	target := s.engine.Now()
	if v := r.URL.Query().Get("date"); v != "" {
		day, err := time.ParseInLocation("2006-01-02", v, s.engine.Location())
		if err != nil {
			respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		target = day
	}
	n, err := s.engine.Project(r.Context(), id, target)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"participant_id": id,
		"date":           target.Format("2006-01-02"),
		"predicted":      n,
	})
}

func (s *Server) handleTrustHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "participantID")
	if !ok {
		return
	}
	evts, err := s.engine.TrustHistory(r.Context(), id, 50)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": evts, "count": len(evts)})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func respondEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnknownDrop), errors.Is(err, engine.ErrUnknownParticipant):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidSchedule):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrNotEligible):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrAlreadyReserved), errors.Is(err, engine.ErrNotReserved),
		errors.Is(err, engine.ErrSlotsFull), errors.Is(err, engine.ErrDropClosed):
		status = http.StatusConflict
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("[ERROR] http: %v", err)
		msg = "internal error"
	}
	respondJSON(w, status, map[string]any{"error": msg, "code": engine.ResultLabel(err)})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"error": message})
}
