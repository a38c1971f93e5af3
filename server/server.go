package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/brensch/alphafour/executor/mcts"
	"github.com/brensch/alphafour/game"
	"github.com/brensch/alphafour/rules"
	"github.com/rs/zerolog"
)

// Server answers move requests with a fresh search per request.
type Server struct {
	newEvaluator  func() mcts.Evaluator[rules.Position]
	evaluatorName string
	mctsConfig    mcts.Config
	moveTimeout   time.Duration
	mctsSims      int
	logger        zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewServer(newEvaluator func() mcts.Evaluator[rules.Position], evaluatorName string, cfg mcts.Config, moveTimeout time.Duration, mctsSims int, logger zerolog.Logger) *Server {
	cfg.Temperature = 0
	return &Server{
		newEvaluator:  newEvaluator,
		evaluatorName: evaluatorName,
		mctsConfig:    cfg,
		moveTimeout:   moveTimeout,
		mctsSims:      mctsSims,
		logger:        logger,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/move", s.handleMove)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, InfoResponse{
		APIVersion: "1",
		Author:     "alphafour",
		Game:       "connect-four",
		Evaluator:  s.evaluatorName,
		Version:    "1.0.0",
	})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	startTime := time.Now()

	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	state, err := req.Board.State()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if rules.IsGameOver(state) {
		http.Error(w, "game is over", http.StatusUnprocessableEntity)
		return
	}

	timeout := s.moveTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	resp := s.runMCTS(ctx, state)
	s.logger.Info().
		Int32("turn", state.Turn).
		Int("move", resp.Move).
		Int("sims", resp.Simulations).
		Bool("fallback", resp.Fallback).
		Dur("elapsed", time.Since(startTime)).
		Msg("move")

	writeJSON(w, http.StatusOK, resp)
}

// runMCTS searches until the simulation budget or ctx runs out. A search cut
// short still answers with what it has; one that never visited an action
// falls back to the lowest legal column.
func (s *Server) runMCTS(ctx context.Context, state *game.GameState) MoveResponse {
	s.mu.Lock()
	seed := s.rng.Int63()
	s.mu.Unlock()

	cfg := s.mctsConfig
	cfg.ActionSpace = int(state.Width)
	m := &mcts.MCTS[rules.Position]{
		Config: cfg,
		Client: s.newEvaluator(),
		Rng:    rand.New(rand.NewSource(seed)),
		Logger: &s.logger,
	}

	result, err := m.Search(ctx, rules.NewPosition(state), s.mctsSims)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) && !errors.Is(err, mcts.ErrNoVisits) {
		s.logger.Error().Err(err).Msg("search failed")
	}
	if result == nil || result.Distribution == nil || result.Action < 0 {
		sims := 0
		if result != nil {
			sims = result.Stats.Simulations
		}
		return MoveResponse{Move: fallbackMove(state), Simulations: sims, Fallback: true}
	}
	return MoveResponse{
		Move:         result.Action,
		Distribution: result.Distribution,
		Simulations:  result.Stats.Simulations,
		Root:         result.Root,
	}
}

func fallbackMove(state *game.GameState) int {
	legal := rules.GetLegalMoves(state)
	if len(legal) == 0 {
		return 0
	}
	return legal[0]
}
