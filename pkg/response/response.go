// Package response 统一 JSON 响应格式
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zeroxmods/certmint/pkg/errs"
)

// Response 统一响应体
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

func Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, Response{Code: 0, Message: "accepted", Data: data})
}

func Error(c *gin.Context, status int, message string) {
	c.JSON(status, Response{Code: status, Message: message})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

func InternalError(c *gin.Context, err error) {
	_ = c.Error(err)
	Error(c, http.StatusInternalServerError, "internal server error")
}

// FromError maps an error kind to its HTTP status.
func FromError(c *gin.Context, err error) {
	switch errs.KindOf(err) {
	case errs.InvalidInput:
		BadRequest(c, err.Error())
	case errs.SignatureInvalid:
		Unauthorized(c, "invalid signature")
	case errs.NotFound:
		NotFound(c, err.Error())
	case errs.OutOfStock:
		Error(c, http.StatusConflict, err.Error())
	case errs.MintInProgress, errs.DuplicateMint:
		Error(c, http.StatusConflict, err.Error())
	case errs.ServiceUnavailable:
		_ = c.Error(err)
		Error(c, http.StatusServiceUnavailable, "upstream service unavailable")
	default:
		InternalError(c, err)
	}
}
