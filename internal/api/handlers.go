package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/MJE43/tigrinho-pf/internal/engine"
	"github.com/MJE43/tigrinho-pf/internal/games"
	"github.com/MJE43/tigrinho-pf/internal/scan"
	"github.com/MJE43/tigrinho-pf/internal/service"
	"github.com/MJE43/tigrinho-pf/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// handleCommitment publishes the live server seed hash and nonce.
func (s *Server) handleCommitment(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Commitment(r.Context())
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, CommitmentResponse{ServerSeedHash: c.ServerSeedHash, Nonce: c.Nonce})
}

func (s *Server) handleSpin(w http.ResponseWriter, r *http.Request) {
	var req service.SpinRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	res, err := s.svc.Spin(r.Context(), req)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVerifyOutcome(w http.ResponseWriter, r *http.Request) {
	var req service.VerifyRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	res, err := s.svc.VerifySpin(r.Context(), req)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.securityLogger.LogAuditEvent(middleware.GetReqID(r.Context()), "verify_outcome", "spin",
		strconv.FormatBool(res.Valid), map[string]any{
			"server_seed_hash": res.ServerSeedHash,
			"nonce":            res.Nonce,
		})
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSeedHash(w http.ResponseWriter, r *http.Request) {
	var req SeedHashRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.ServerSeed == "" {
		s.errorHandler.HandleValidationError(w, r, "server_seed", "server_seed is required")
		return
	}
	s.writeJSON(w, http.StatusOK, SeedHashResponse{
		Hash:          engine.Commitment(req.ServerSeed),
		EngineVersion: EngineVersion,
	})
}

func (s *Server) handleRevealedSeeds(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := s.limitOffset(w, r)
	if !ok {
		return
	}
	seeds, err := s.svc.RevealedSeeds(r.Context(), limit, offset)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if seeds == nil {
		seeds = []store.SeedEpoch{}
	}
	s.writeJSON(w, http.StatusOK, RevealedSeedsResponse{Seeds: seeds, Limit: limit, Offset: offset})
}

// handleHistory pages through spins with limit/offset, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := s.limitOffset(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := s.svc.History(r.Context(), store.SpinsQuery{
		ClientSeed:     q.Get("client_seed"),
		ServerSeedHash: q.Get("server_seed_hash"),
		PerPage:        limit,
		Offset:         offset,
	})
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetSpin(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.GetSpin(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scan.ScanRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Seeds.Server == "" {
		s.errorHandler.HandleValidationError(w, r, "seeds.server", "server seed is required")
		return
	}
	res, err := s.svc.Scan(r.Context(), req)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ScanResponse{
		Hits:          res.Hits,
		Summary:       res.Summary,
		EngineVersion: EngineVersion,
		Echo:          res.Echo,
	})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req ReplayRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Script == "" {
		s.errorHandler.HandleValidationError(w, r, "script", "script is required")
		return
	}
	res, err := s.svc.Replay(r.Context(), req.Script, req.Options)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, GamesResponse{
		Games:         games.ListGames(),
		EngineVersion: EngineVersion,
	})
}

func (s *Server) handleSetParams(w http.ResponseWriter, r *http.Request) {
	var req SetParamsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.RTPTarget == nil {
		s.errorHandler.HandleValidationError(w, r, "rtp_target", "rtp_target is required")
		return
	}
	if len(req.Paytable) == 0 {
		s.errorHandler.HandleValidationError(w, r, "paytable", "paytable must have at least one entry")
		return
	}
	if err := s.svc.SetParams(r.Context(), *req.RTPTarget, req.Paytable); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.securityLogger.LogAuditEvent(middleware.GetReqID(r.Context()), "set_params", "params", "success",
		map[string]any{"rtp_target": *req.RTPTarget, "paytable_entries": len(req.Paytable)})
	s.writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) handleRotateSeed(w http.ResponseWriter, r *http.Request) {
	var req RotateSeedRequest
	if r.ContentLength != 0 && !s.decodeJSON(w, r, &req) {
		return
	}
	res, err := s.svc.RotateSeed(r.Context(), req.NewSeed)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.securityLogger.LogAuditEvent(middleware.GetReqID(r.Context()), "rotate_seed", "params", "success",
		map[string]any{
			"retired_hash": res.Revealed.ServerSeedHash,
			"new_hash":     res.NewServerSeedHash,
		})
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="spins.csv"`)
	w.Header().Set("X-Engine-Version", EngineVersion)
	// Headers are committed with the first row; later failures can only be logged.
	if err := s.svc.ExportCSV(r.Context(), w); err != nil {
		s.logger.Error("csv export failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// limitOffset parses ?limit and ?offset, writing a validation error on bad
// input.
func (s *Server) limitOffset(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	limit, offset = defaultListLimit, 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			s.errorHandler.HandleValidationError(w, r, "limit", "limit must be between 1 and "+strconv.Itoa(maxListLimit))
			return 0, 0, false
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.errorHandler.HandleValidationError(w, r, "offset", "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
