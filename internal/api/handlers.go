package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/roach88/shipsure/internal/engine"
	"github.com/roach88/shipsure/internal/ledger"
	"github.com/roach88/shipsure/internal/policy"
	"github.com/roach88/shipsure/internal/scheduler"
	"github.com/roach88/shipsure/internal/store"
)

type checkRequest struct {
	ShipmentID string `json:"shipmentId"`
}

type autoCheckResponse struct {
	Message      string                  `json:"message"`
	CycleID      string                  `json:"cycleId"`
	Results      []engine.ShipmentResult `json:"results"`
	TotalChecked int                     `json:"totalChecked"`
	ClaimsPaid   int                     `json:"claimsPaid"`
}

type policyView struct {
	Policy policy.Policy  `json:"policy"`
	Claims []policy.Claim `json:"claims"`
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ledger.ErrPolicyNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrStopped):
		return http.StatusServiceUnavailable
	case engine.IsTransient(err), ledger.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// detach is the request context without its cancellation. A client that
// disconnects must not interrupt a check between the ledger and mirror
// writes.
func detach(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func abort(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (s *Server) checkShipment(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ShipmentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "shipmentId is required"})
		return
	}

	res, err := s.runner.Check(detach(c), req.ShipmentID)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) autoCheck(c *gin.Context) {
	batch, err := s.runner.RunOnce(detach(c))
	if err != nil {
		abort(c, err)
		return
	}

	results := batch.Results
	if results == nil {
		results = []engine.ShipmentResult{}
	}
	c.JSON(http.StatusOK, autoCheckResponse{
		Message:      "Auto check completed",
		CycleID:      batch.CycleID,
		Results:      results,
		TotalChecked: batch.TotalChecked,
		ClaimsPaid:   batch.ClaimsPaid,
	})
}

func (s *Server) tracking(c *gin.Context) {
	entries, err := s.mirror.Tracking(c.Request.Context(), c.Param("shipmentId"))
	if err != nil {
		abort(c, err)
		return
	}
	if entries == nil {
		entries = []policy.TrackingEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.mirror.Stats(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) mirrorPolicy(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("shipmentId")

	p, err := s.mirror.ReadPolicy(ctx, id)
	if err != nil {
		abort(c, err)
		return
	}
	claims, err := s.mirror.ListClaims(ctx, id)
	if err != nil {
		abort(c, err)
		return
	}
	if claims == nil {
		claims = []policy.Claim{}
	}
	c.JSON(http.StatusOK, policyView{Policy: p, Claims: claims})
}

func (s *Server) ledgerInfo(c *gin.Context) {
	info, err := s.ledger.Info(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) ledgerPolicy(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("policyId"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "policyId must be a positive integer"})
		return
	}

	p, err := s.ledger.ReadPolicy(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) userPolicies(c *gin.Context) {
	ids, err := s.ledger.UserPolicies(c.Request.Context(), c.Param("holder"))
	if err != nil {
		abort(c, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	c.JSON(http.StatusOK, gin.H{"policyIds": ids})
}
