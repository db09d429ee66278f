package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zeroxmods/certmint/internal/payment"
	"github.com/zeroxmods/certmint/internal/service"
	"github.com/zeroxmods/certmint/pkg/logger"
	"github.com/zeroxmods/certmint/pkg/response"
)

// webhook 请求体上限
const maxWebhookBody = 1 << 20

// Checkout 创建订单并发起 Paystack 支付
// @Summary 下单
// @Tags payments
// @Accept json
// @Produce json
// @Param request body service.CheckoutRequest true "下单信息"
// @Success 200 {object} response.Response{data=service.CheckoutResult}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response "库存不足"
// @Failure 503 {object} response.Response
// @Router /payments/checkout [post]
func (h *Handler) Checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	res, err := h.paymentService.Checkout(c.Request.Context(), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, res)
}

// Webhook Paystack 回调，必须使用原始请求体校验签名
// @Summary Paystack webhook
// @Tags payments
// @Accept json
// @Produce json
// @Param X-Paystack-Signature header string true "HMAC-SHA512 签名"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Router /payments/webhook [post]
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}
	sig := c.GetHeader(payment.SignatureHeader)
	if err := h.paymentService.HandleWebhook(c.Request.Context(), sig, body); err != nil {
		logger.Warn("webhook rejected", zap.Error(err), zap.String("ip", c.ClientIP()))
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

// VerifyPayment 主动向 Paystack 查询支付结果
// @Summary 校验支付
// @Tags payments
// @Produce json
// @Param reference path string true "支付流水号"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /payments/verify/{reference} [post]
func (h *Handler) VerifyPayment(c *gin.Context) {
	order, err := h.paymentService.VerifyPayment(c.Request.Context(), c.Param("reference"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}

// CompleteTestPayment 测试环境下跳过网关直接标记已支付
// @Summary 测试支付完成
// @Tags payments
// @Security BearerAuth
// @Produce json
// @Param reference path string true "支付流水号"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 404 {object} response.Response
// @Router /payments/test/complete/{reference} [post]
func (h *Handler) CompleteTestPayment(c *gin.Context) {
	if !h.allowTestCompletion {
		response.Error(c, http.StatusNotFound, "test completion disabled")
		return
	}
	order, err := h.paymentService.CompleteTestPayment(c.Request.Context(), c.Param("reference"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}
