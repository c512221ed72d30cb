package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/vitos/trade_engine/internal/domain"
	"github.com/vitos/trade_engine/internal/usecase"
	"go.uber.org/zap"
)

type statusResponse struct {
	State         string `json:"state"`
	Reason        string `json:"reason,omitempty"`
	Running       bool   `json:"running"`
	OpenPositions int    `json:"open_positions"`
}

type positionView struct {
	ID          string     `json:"id"`
	Exchange    string     `json:"exchange"`
	Pair        string     `json:"pair"`
	StakeAmount float64    `json:"stake_amount"`
	Amount      float64    `json:"amount"`
	OpenRate    float64    `json:"open_rate"`
	CloseRate   *float64   `json:"close_rate,omitempty"`
	CloseProfit *float64   `json:"close_profit,omitempty"`
	Profit      *float64   `json:"profit,omitempty"`
	OpenOrderID string     `json:"open_order_id,omitempty"`
	ExitReason  string     `json:"exit_reason,omitempty"`
	IsOpen      bool       `json:"is_open"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

func newPositionView(p *domain.Position) positionView {
	v := positionView{
		ID:          p.ID,
		Exchange:    p.Exchange,
		Pair:        p.Pair,
		StakeAmount: p.StakeAmount,
		Amount:      p.Amount,
		OpenRate:    p.OpenRate,
		CloseRate:   p.CloseRate,
		CloseProfit: p.CloseProfit,
		OpenOrderID: p.OpenOrderID,
		ExitReason:  string(p.ExitReason),
		IsOpen:      p.IsOpen,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    p.ClosedAt,
	}
	if p.CloseRate != nil {
		profit := p.Profit(*p.CloseRate)
		v.Profit = &profit
	}
	return v
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	open, err := s.repo.QueryPositions(r.Context(), true)
	if err != nil {
		s.logger.Error("Failed to query positions", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to query positions")
		return
	}

	state := s.engine.State()
	s.writeJSON(w, http.StatusOK, statusResponse{
		State:         state.Get().String(),
		Reason:        state.Reason(),
		Running:       s.engine.Running(),
		OpenPositions: len(open),
	})
}

// handleTick runs exactly one iteration. Only allowed while the loop is not free-running.
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if s.engine.State().Get() == domain.StateStopped {
		s.writeError(w, http.StatusConflict, "engine stopped: "+s.engine.State().Reason())
		return
	}
	if s.engine.Running() {
		s.writeError(w, http.StatusConflict, "control loop is running")
		return
	}

	// A client disconnect must not abort a tick that may already have placed an order.
	didWork := s.engine.Tick(context.WithoutCancel(r.Context()))
	s.writeJSON(w, http.StatusOK, map[string]bool{"did_work": didWork})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Start(s.runCtx)
	switch {
	case errors.Is(err, usecase.ErrEngineStopped), errors.Is(err, usecase.ErrLoopRunning):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("Failed to start control loop", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(r.Context()); err != nil {
		s.logger.Error("Failed to stop control loop", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	isOpen := true
	if raw := r.URL.Query().Get("open"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "open must be true or false")
			return
		}
		isOpen = parsed
	}

	positions, err := s.repo.QueryPositions(r.Context(), isOpen)
	if err != nil {
		s.logger.Error("Failed to get positions", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to get positions")
		return
	}

	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, newPositionView(p))
	}
	s.writeJSON(w, http.StatusOK, views)
}
