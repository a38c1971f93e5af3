package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/brensch/alphafour/game"
	"github.com/brensch/alphafour/rules"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const sessionReadTimeout = 10 * time.Minute

// session is one interactive game between a websocket client and the engine.
type session struct {
	srv    *Server
	conn   *websocket.Conn
	logger zerolog.Logger

	state *game.GameState
	human game.Player
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	human, err := parsePlayer(r.URL.Query().Get("human"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sess := &session{
		srv:    s,
		conn:   conn,
		logger: s.logger.With().Str("remote", r.RemoteAddr).Logger(),
		state:  rules.Standard(),
		human:  human,
	}
	if err := sess.run(r.Context()); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		sess.logger.Debug().Err(err).Msg("session ended")
	}
}

func (s *session) send(typ string, data any) error {
	ev, err := newEvent(typ, data)
	if err != nil {
		return err
	}
	return s.conn.WriteJSON(ev)
}

func (s *session) sendError(format string, args ...any) error {
	return s.send(EventError, ErrorEvent{Message: fmt.Sprintf(format, args...)})
}

func (s *session) run(ctx context.Context) error {
	if err := s.send(EventState, stateEvent(s.state, s.human)); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !rules.IsGameOver(s.state) && s.state.ToMove != s.human {
			if err := s.engineMove(ctx); err != nil {
				return err
			}
			continue
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(sessionReadTimeout))
		var ev Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			return err
		}
		if err := s.handle(ev); err != nil {
			return err
		}
	}
}

func (s *session) handle(ev Event) error {
	switch ev.Type {
	case EventMove:
		var m MoveEvent
		if err := json.Unmarshal(ev.Data, &m); err != nil {
			return s.sendError("bad move: %v", err)
		}
		if rules.IsGameOver(s.state) {
			return s.sendError("game is over; send %q to play again", EventNew)
		}
		next, err := rules.Play(s.state, m.Column)
		if err != nil {
			return s.sendError("%v", err)
		}
		s.state = next
		return s.afterMove(s.human, m.Column, 0)

	case EventNew:
		var req NewGameRequest
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &req); err != nil {
				return s.sendError("bad new game request: %v", err)
			}
		}
		human, err := parsePlayer(req.Human)
		if err != nil {
			return s.sendError("%v", err)
		}
		state, err := req.Board.State()
		if err != nil {
			return s.sendError("%v", err)
		}
		s.state, s.human = state, human
		return s.send(EventState, stateEvent(s.state, s.human))

	default:
		return s.sendError("unknown event type %q", ev.Type)
	}
}

func (s *session) engineMove(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.srv.moveTimeout)
	defer cancel()

	resp := s.srv.runMCTS(ctx, s.state)
	next, err := rules.Play(s.state, resp.Move)
	if err != nil {
		return fmt.Errorf("engine move %d: %w", resp.Move, err)
	}
	mover := s.state.ToMove
	s.state = next
	s.logger.Debug().Int("move", resp.Move).Int("sims", resp.Simulations).Msg("engine move")
	return s.afterMove(mover, resp.Move, resp.Simulations)
}

func (s *session) afterMove(player game.Player, column, sims int) error {
	if err := s.send(EventMove, MoveEvent{Player: player.String(), Column: column, Simulations: sims}); err != nil {
		return err
	}
	if err := s.send(EventState, stateEvent(s.state, s.human)); err != nil {
		return err
	}
	if rules.IsGameOver(s.state) {
		winner := rules.Winner(s.state)
		return s.send(EventGameEnd, GameEndEvent{Winner: winner.String(), Draw: winner == game.None})
	}
	return nil
}
