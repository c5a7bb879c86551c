package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mtdlab/stackplan/internal/auth"
	"github.com/mtdlab/stackplan/internal/model"
	"github.com/mtdlab/stackplan/internal/service"
	"github.com/mtdlab/stackplan/pkg/bsg"
	"github.com/mtdlab/stackplan/pkg/bvn"
	"github.com/mtdlab/stackplan/pkg/mip"
)

// RunHandler exposes solver runs over HTTP. Game inputs arrive in the same
// text formats the CLIs consume.
type RunHandler struct {
	svc *service.SolveService
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(svc *service.SolveService) *RunHandler {
	return &RunHandler{svc: svc}
}

type runRequest struct {
	Kind  string  `json:"kind"`
	Label string  `json:"label,omitempty"`
	Input string  `json:"input"`
	Alpha float64 `json:"alpha,omitempty"`
	K     int     `json:"k,omitempty"`
}

// CreateRun handles POST /api/v1/runs.
func (h *RunHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}
	if !auth.KindAllowed(r.Context(), req.Kind) {
		writeError(w, http.StatusForbidden, "token does not grant "+req.Kind+" runs")
		return
	}

	var run *model.SolveRun
	var err error
	switch req.Kind {
	case model.KindDOBSS, model.KindUniform:
		var g *bsg.Game
		if g, err = bsg.ParseGame(strings.NewReader(req.Input)); err == nil {
			run, err = h.svc.SolveGame(r.Context(), req.Kind, req.Label, g, 0)
		}
	case model.KindCost:
		var g *bsg.Game
		if g, err = bsg.ParseCostGame(strings.NewReader(req.Input)); err == nil {
			run, err = h.svc.SolveGame(r.Context(), req.Kind, req.Label, g, req.Alpha)
		}
	case model.KindWhatToFix:
		k := req.K
		if k == 0 {
			k = 1
		}
		var g *bsg.Game
		if g, err = bsg.ParseGame(strings.NewReader(req.Input)); err == nil {
			run, err = h.svc.WhatToFix(r.Context(), req.Label, g, k)
		}
	case model.KindSchedule:
		var sg *bsg.ScheduleGame
		if sg, err = bsg.ParseScheduleGame(strings.NewReader(req.Input)); err == nil {
			run, err = h.svc.Schedule(r.Context(), req.Label, sg)
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown kind")
		return
	}

	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, bsg.ErrMalformedInput) || errors.Is(err, bsg.ErrInvalidGame):
			status = http.StatusBadRequest
		case errors.Is(err, mip.ErrInfeasible) || errors.Is(err, mip.ErrUnbounded):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, bvn.ErrNotBihierarchy) || errors.Is(err, bvn.ErrCapacityViolation) ||
			errors.Is(err, bvn.ErrNumericalDrift):
			status = http.StatusUnprocessableEntity
		}
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("kind", req.Kind).Msg("Solve run failed")
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

// ListRuns handles GET /api/v1/runs.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.ListRuns(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /api/v1/runs/{id}.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
