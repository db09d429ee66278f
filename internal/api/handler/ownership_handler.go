package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zeroxmods/certmint/pkg/errs"
	"github.com/zeroxmods/certmint/pkg/logger"
	"github.com/zeroxmods/certmint/pkg/response"
)

type reMintRequest struct {
	OrderID string `json:"orderId" binding:"required"`
}

type unfreezeRequest struct {
	OrderID   string `json:"orderId" binding:"required"`
	AccountID string `json:"accountId"`
}

// GetCertificate 查询订单的双证书
// @Summary 查询证书
// @Tags ownership
// @Produce json
// @Param orderId path string true "订单ID"
// @Success 200 {object} response.Response{data=service.CertificateView}
// @Failure 404 {object} response.Response
// @Router /ownership/order/{orderId} [get]
func (h *Handler) GetCertificate(c *gin.Context) {
	view, err := h.certificateService.GetByOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, view)
}

// ReMint 管理员重新执行铸造，已完成的订单直接返回。
// 在 reMintTimeout 内未完成且可重试时转入后台队列，返回 202。
// @Summary 重新铸造
// @Tags ownership-admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body reMintRequest true "订单"
// @Success 200 {object} response.Response
// @Success 202 {object} response.Response "已转入后台队列"
// @Failure 409 {object} response.Response "铸造进行中"
// @Failure 503 {object} response.Response
// @Router /ownership/admin/re-mint [post]
func (h *Handler) ReMint(c *gin.Context) {
	var req reMintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.reMintTimeout)
	defer cancel()

	res, err := h.minter.RetryMint(ctx, req.OrderID)
	if err != nil {
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		if (errs.Retryable(err) || timedOut) && h.queue != nil {
			qctx := context.WithoutCancel(c.Request.Context())
			qErr := h.queue.Enqueue(qctx, req.OrderID)
			if qErr == nil {
				logger.Info("re-mint handed to worker", zap.String("order_id", req.OrderID), zap.Error(err))
				response.Accepted(c, gin.H{"orderId": req.OrderID, "queued": true, "lastError": err.Error()})
				return
			}
			logger.Error("enqueue re-mint", zap.String("order_id", req.OrderID), zap.Error(qErr))
		}
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"orderId":           res.Order.ID,
		"orderStatus":       res.Order.OrderStatus,
		"mintStep":          res.Order.MintStep,
		"alreadyMinted":     res.AlreadyMinted,
		"authenticityToken": res.Authenticity,
		"ownershipToken":    res.Ownership,
	})
}

// ListFailedMints 铸造失败订单列表
// @Summary 失败订单
// @Tags ownership-admin
// @Security BearerAuth
// @Produce json
// @Param limit query int false "数量" default(50)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /ownership/admin/failed-mints [get]
func (h *Handler) ListFailedMints(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.certificateService.ListFailedMints(c.Request.Context(), limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"limit": limit, "list": list})
}

// Unfreeze 解冻所有权证书，允许转让
// @Summary 解冻所有权证书
// @Tags ownership-admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body unfreezeRequest true "订单与账户"
// @Success 200 {object} response.Response{data=model.OwnershipToken}
// @Failure 400 {object} response.Response
// @Router /ownership/admin/unfreeze [post]
func (h *Handler) Unfreeze(c *gin.Context) {
	var req unfreezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	own, err := h.certificateService.Unfreeze(c.Request.Context(), req.OrderID, req.AccountID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, own)
}

// Health 检查数据库与 redis
// @Summary 健康检查
// @Tags system
// @Produce json
// @Success 200 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{}
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, response.Response{Code: http.StatusServiceUnavailable, Message: "unhealthy", Data: status})
		return
	}
	response.Success(c, status)
}
