package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	walletdomain "github.com/stackin/escrow/internal/wallet/domain"
	"github.com/stackin/escrow/pkg/db/pagination"
)

type walletResponse struct {
	pagination.PageInfo
	Wallet       *walletdomain.Wallet       `json:"wallet"`
	Transactions []walletdomain.Transaction `json:"transactions"`
}

func (s *Server) GetMyWallet(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	ctx := c.Request.Context()
	wallet, err := s.walletSvc.GetWallet(ctx, actor.UserID)
	if errors.Is(err, walletdomain.ErrNotFound) {
		// Wallets are created on the first release credit.
		c.JSON(http.StatusOK, walletResponse{Transactions: []walletdomain.Transaction{}})
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	txs, err := s.walletSvc.ListTransactions(ctx, wallet.ID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, walletResponse{
		PageInfo:     txs.PageInfo,
		Wallet:       wallet,
		Transactions: txs.Transactions,
	})
}

func (s *Server) ReconcileWallet(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	result, err := s.walletSvc.Reconcile(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
