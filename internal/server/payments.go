package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	escrowdomain "github.com/stackin/escrow/internal/escrow/domain"
	intentdomain "github.com/stackin/escrow/internal/intent/domain"
	"github.com/stackin/escrow/pkg/db/pagination"
)

const idempotencyKeyHeader = "Idempotency-Key"

type createIntentRequest struct {
	TaskID         string      `json:"task_id"`
	Amount         json.Number `json:"amount"`
	Currency       string      `json:"currency"`
	Provider       string      `json:"provider"`
	IdempotencyKey string      `json:"idempotency_key"`
}

func (s *Server) CreateIntent(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.TaskID) == "" {
		AbortWithError(c, newValidationError("task_id", "required", "task_id is required"))
		return
	}

	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))
	}

	intent, err := s.intentSvc.CreateIntent(c.Request.Context(), intentdomain.CreateIntentRequest{
		TaskID:         req.TaskID,
		Actor:          actor,
		Amount:         req.Amount.String(),
		Currency:       req.Currency,
		Provider:       req.Provider,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": intent})
}

func (s *Server) GetIntent(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	intent, err := s.intentSvc.GetIntent(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Only the paying client may see the secret.
	view := *intent
	if view.ClientID != actor.UserID {
		view.ClientSecret = ""
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

type attachProviderRefRequest struct {
	ProviderRef string `json:"provider_ref"`
	CheckoutURL string `json:"checkout_url"`
}

func (s *Server) AttachProviderRef(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req attachProviderRefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.ProviderRef) == "" {
		AbortWithError(c, newValidationError("provider_ref", "required", "provider_ref is required"))
		return
	}

	intent, err := s.intentSvc.AttachProviderRef(c.Request.Context(), intentdomain.AttachProviderRefRequest{
		IntentID:    c.Param("id"),
		ProviderRef: req.ProviderRef,
		CheckoutURL: req.CheckoutURL,
		Actor:       actor,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	view := *intent
	view.ClientSecret = ""
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) GetPayment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	view, err := s.escrowSvc.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) ReleasePayment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	payment, err := s.escrowSvc.Release(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Payment released to worker",
		"data":    payment,
	})
}

func (s *Server) RefundPayment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	payment, err := s.escrowSvc.Refund(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Payment refunded",
		"data":    payment,
	})
}

type assignWorkerRequest struct {
	WorkerID json.Number `json:"worker_id"`
}

func (s *Server) AssignWorker(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req assignWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.WorkerID.String()) == "" {
		AbortWithError(c, newValidationError("worker_id", "required", "worker_id is required"))
		return
	}

	payment, err := s.escrowSvc.AssignWorker(c.Request.Context(), escrowdomain.AssignWorkerRequest{
		TaskID:   c.Param("id"),
		WorkerID: req.WorkerID.String(),
		Actor:    actor,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

func (s *Server) ListPayments(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	resp, err := s.escrowSvc.List(c.Request.Context(), escrowdomain.ListRequest{
		Actor:     actor,
		Status:    strings.TrimSpace(c.Query("status")),
		PageToken: page.PageToken,
		PageSize:  page.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
