package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/stackin/escrow/internal/webhook/domain"
)

const maxWebhookBodyBytes = 1 << 20

// HandlePaymentWebhook answers providers with flat {"message"} and {"error"}
// bodies instead of the API error envelope.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}
	c.Set("webhook_provider", webhookdomain.PeekProvider(payload))

	signature := strings.TrimSpace(c.GetHeader(webhookdomain.SignatureHeader))
	result, err := s.webhookSvc.Handle(c.Request.Context(), payload, signature)
	if err != nil {
		_ = c.Error(err)
		status, message := webhookErrorResponse(err)
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": result.Message})
}

func webhookErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, webhookdomain.ErrInvalidSignature):
		return http.StatusBadRequest, "Invalid signature"
	case errors.Is(err, webhookdomain.ErrInvalidPayload):
		return http.StatusBadRequest, "Invalid payload"
	case errors.Is(err, webhookdomain.ErrIntentNotFound):
		return http.StatusNotFound, webhookdomain.ErrIntentNotFound.Error()
	case errors.Is(err, webhookdomain.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many requests"
	default:
		return http.StatusInternalServerError, "Webhook processing failed"
	}
}

func (s *Server) ListWebhookLogs(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	processed, err := parseOptionalBool(c.Query("processed"))
	if err != nil {
		AbortWithError(c, newValidationError("processed", "invalid_processed", "invalid processed"))
		return
	}
	pageSize, err := parsePageSize(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.webhookSvc.ListLogs(c.Request.Context(), webhookdomain.ListLogsRequest{
		Actor:     actor,
		Provider:  strings.TrimSpace(c.Query("provider")),
		Processed: processed,
		PageToken: strings.TrimSpace(c.Query("page_token")),
		PageSize:  pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ReplayWebhookLog(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	result, err := s.webhookSvc.Replay(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		if errors.Is(err, webhookdomain.ErrIntentNotFound) || errors.Is(err, webhookdomain.ErrProcessing) {
			_ = c.Error(err)
			status, message := webhookErrorResponse(err)
			c.JSON(status, gin.H{"error": message, "log_id": strings.TrimSpace(c.Param("id"))})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": result.Message, "log_id": result.LogID})
}
