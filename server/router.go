package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"kuhn-arena/server/agent"
	"kuhn-arena/server/engine"
	"kuhn-arena/server/metrics"
	"kuhn-arena/server/sim"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server holds what the HTTP surface needs.
type Server struct {
	runner  *Runner
	metrics *metrics.Record
	eq      agent.Stochastic
	hands   int           // default for /api/start
	delay   time.Duration // pause between progressive micro-batches

	mu   sync.Mutex
	live *Live

	rngMu sync.Mutex
	rng   *rand.Rand // deals and bot draws for /api/play
}

func NewServer(runner *Runner, rec *metrics.Record, eq agent.Stochastic, hands int, delay time.Duration) *Server {
	if rec == nil {
		rec = metrics.Empty()
	}
	return &Server{runner: runner, metrics: rec, eq: eq, hands: hands, delay: delay, rng: engine.NewRand(0)}
}

func Router(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"ok": true})
		})
		r.Post("/start", s.handleStart)
		r.Post("/progressive", s.handleProgressive)
		r.Post("/cancel", s.handleCancel)
		r.Get("/stats", s.handleStats)
		r.Get("/last-hand", s.handleLastHand)
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, s.metrics)
		})
		r.Get("/metrics/series", s.handleSeries)
		r.Get("/strategy", s.handleStrategy)
		r.Get("/expected", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, s.runner.Expected())
		})
		r.Get("/runs", s.handleRuns)
		r.Post("/play", s.handlePlay)
		r.Get("/live", s.handleLive)
	})
	return r
}

type startReq struct {
	Hands   *int `json:"hands"`
	Batch   int  `json:"batch"`
	DelayMS *int `json:"delay_ms"`
}

func decodeStart(r *http.Request) (startReq, error) {
	var req startReq
	if r.Body == nil || r.ContentLength == 0 {
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	req, err := decodeStart(r)
	if err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	n := s.hands
	if req.Hands != nil {
		n = *req.Hands
	}
	rep, err := s.runner.Batch(r.Context(), n)
	switch {
	case errors.Is(err, sim.ErrInvalidHands):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, rep)
}

// startLive replaces any open progressive run with a new one.
func (s *Server) startLive(req startReq) (*Live, time.Duration, error) {
	cfg := s.runner.Sim().Config()
	n, batch, delay := cfg.ProgressiveHands, cfg.Batch, s.delay
	if req.Hands != nil {
		n = *req.Hands
	}
	if req.Batch != 0 {
		batch = req.Batch
	}
	if req.DelayMS != nil {
		delay = time.Duration(*req.DelayMS) * time.Millisecond
	}
	live, err := s.runner.Progressive(context.Background(), n, batch)
	if err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	s.live = live
	s.mu.Unlock()
	return live, delay, nil
}

func (s *Server) handleProgressive(w http.ResponseWriter, r *http.Request) {
	req, err := decodeStart(r)
	if err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	live, delay, err := s.startLive(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	go live.Drive(delay, nil)
	writeJSONStatus(w, http.StatusAccepted, live.Info())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"cancelled": s.runner.Sim().Cancel()})
}

func (s *Server) currentLive() *Live {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil || s.live.Progress != s.runner.Sim().Current() {
		return nil
	}
	return s.live
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	type Payload struct {
		Report
		Progress *sim.ProgressInfo `json:"progress,omitempty"`
	}
	p := Payload{Report: s.runner.Report()}
	if live := s.currentLive(); live != nil {
		info := live.Info()
		p.Progress = &info
	}
	writeJSON(w, p)
}

func (s *Server) handleLastHand(w http.ResponseWriter, r *http.Request) {
	h := s.runner.Sim().LastHand()
	if h == nil {
		http.Error(w, "no hand played yet", http.StatusNotFound)
		return
	}
	type Card struct {
		Rank string `json:"rank"`
		Face string `json:"face"`
	}
	cards := map[string]Card{}
	for a, c := range h.Cards {
		cards[string(a)] = Card{Rank: c.String(), Face: c.Face()}
	}
	writeJSON(w, map[string]any{"hand": h, "faces": cards})
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("info_set")
	sets := s.metrics.InfoSets()
	if key == "" && len(sets) > 0 {
		key = sets[0]
	}
	writeJSON(w, map[string]any{
		"info_set":  key,
		"info_sets": sets,
		"points":    s.metrics.Series(key),
	})
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"cfr":        agent.Profile(s.eq),
		"baseline":   agent.Profile(agent.Baseline{}),
		"trained":    s.metrics.Latest(),
		"thresholds": s.runner.Sim().Config().Thresholds,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ctx, cancel := withTimeout(r.Context(), 5*time.Second)
	defer cancel()
	runs, err := s.runner.st.ListRuns(ctx, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

type liveMsg struct {
	Type     string           `json:"type"` // snapshot|done
	Progress sim.ProgressInfo `json:"progress"`
	Report   Report           `json:"report"`
}

// handleLive starts a progressive run and streams a snapshot after every
// micro-batch. A text message "cancel" from the client, or the client going
// away, cancels the run.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	req := startReq{}
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("hands")); err == nil {
		req.Hands = &v
	}
	if v, err := strconv.Atoi(q.Get("batch")); err == nil {
		req.Batch = v
	}
	if v, err := strconv.Atoi(q.Get("delay_ms")); err == nil {
		req.DelayMS = &v
	}
	live, delay, err := s.startLive(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		live.Cancel()
		live.finish()
		glog.Warningf("live: upgrade: %v", err)
		return
	}
	defer conn.Close()

	go func() {
		defer live.Cancel()
		conn.SetReadLimit(512)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					glog.V(1).Infof("live: read: %v", err)
				}
				return
			}
			if strings.EqualFold(strings.TrimSpace(string(msg)), "cancel") {
				return
			}
		}
	}()

	send := func(kind string) bool {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(liveMsg{Type: kind, Progress: live.Info(), Report: live.Report()}) == nil
	}
	live.Drive(delay, func(sim.Stats) {
		if !send("snapshot") {
			live.Cancel()
		}
	})
	send("done")
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(live.Status())))
}

func writeJSON(w http.ResponseWriter, v any) { writeJSONStatus(w, http.StatusOK, v) }

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
