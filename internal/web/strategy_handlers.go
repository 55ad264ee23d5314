package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
	"github.com/vitos/grid_ladder/internal/usecase"
	"go.uber.org/zap"
)

type levelRequest struct {
	Price    *decimal.Decimal `json:"price"`
	Quantity *decimal.Decimal `json:"quantity"`
}

type marginRequest struct {
	ProfitMargin *float64 `json:"profit_margin"`
}

func (s *Server) handleStartStrategy(w http.ResponseWriter, r *http.Request) {
	var req usecase.StartRequest
	if !s.decode(w, r, &req) {
		return
	}

	snap, err := s.strategies.Start(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Strategy started via API",
		zap.String("id", snap.ID), zap.String("symbol", snap.Symbol), zap.String("type", snap.Variant))
	s.writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.strategies.ListAll())
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	snap, err := s.strategies.Snapshot(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStopStrategy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.strategies.Stop(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Strategy stopped via API", zap.String("id", id))
	s.writeOK(w, map[string]any{"id": id})
}

func (s *Server) handleSetProfitMargin(w http.ResponseWriter, r *http.Request) {
	var req marginRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ProfitMargin == nil {
		s.writeError(w, fmt.Errorf("profit_margin is required: %w", domain.ErrInvalidArgument))
		return
	}
	if err := s.strategies.SetProfitMargin(r.Context(), r.PathValue("id"), *req.ProfitMargin); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, map[string]any{"profit_margin": *req.ProfitMargin})
}

func (s *Server) handleAddLevel(w http.ResponseWriter, r *http.Request) {
	var req levelRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Price == nil || req.Quantity == nil {
		s.writeError(w, fmt.Errorf("price and quantity are required: %w", domain.ErrInvalidArgument))
		return
	}

	index, err := s.strategies.AddLevel(r.Context(), r.PathValue("id"), *req.Price, *req.Quantity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "index": index})
}

func (s *Server) handleClearLevels(w http.ResponseWriter, r *http.Request) {
	if err := s.strategies.ClearLevels(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) handleRemoveLevel(w http.ResponseWriter, r *http.Request) {
	index, ok := s.levelIndex(w, r)
	if !ok {
		return
	}
	if err := s.strategies.RemoveLevel(r.Context(), r.PathValue("id"), index); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, map[string]any{"index": index})
}

// handleUpdateLevel applies whichever of price and quantity the body carries,
// price first.
func (s *Server) handleUpdateLevel(w http.ResponseWriter, r *http.Request) {
	index, ok := s.levelIndex(w, r)
	if !ok {
		return
	}
	var req levelRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Price == nil && req.Quantity == nil {
		s.writeError(w, fmt.Errorf("price or quantity is required: %w", domain.ErrInvalidArgument))
		return
	}

	id := r.PathValue("id")
	if req.Price != nil {
		if err := s.strategies.UpdateLevelPrice(r.Context(), id, index, *req.Price); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if req.Quantity != nil {
		if err := s.strategies.UpdateLevelQuantity(r.Context(), id, index, *req.Quantity); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeOK(w, map[string]any{"index": index})
}

func (s *Server) handleStopLevel(w http.ResponseWriter, r *http.Request) {
	index, ok := s.levelIndex(w, r)
	if !ok {
		return
	}
	if err := s.strategies.StopLevel(r.Context(), r.PathValue("id"), index); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, map[string]any{"index": index})
}

func (s *Server) handleReactivateLevel(w http.ResponseWriter, r *http.Request) {
	index, ok := s.levelIndex(w, r)
	if !ok {
		return
	}
	if err := s.strategies.ReactivateLevel(r.Context(), r.PathValue("id"), index); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, map[string]any{"index": index})
}

func (s *Server) handleListFills(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, fmt.Errorf("fill journal is disabled: %w", domain.ErrNotFound))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, fmt.Errorf("limit %q: %w", raw, domain.ErrInvalidArgument))
			return
		}
		limit = n
	}

	fills, err := s.journal.ListFills(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, fills)
}

func (s *Server) handleRealizedPnL(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, fmt.Errorf("fill journal is disabled: %w", domain.ErrNotFound))
		return
	}

	id := r.PathValue("id")
	total, err := s.journal.RealizedPnL(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to sum realized P&L", zap.String("id", id), zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"strategy_id": id, "realized_pnl": total})
}
