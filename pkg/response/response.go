package response

import (
	"errors"
	"net/http"

	"mealsub/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeConflict      = 409
	CodeServerError   = 500
	CodeGatewayError  = 502
	CodeUnavailable   = 503
	CodeBusinessError = 1000
)

const (
	CodeInsufficientCredit = 1001
	CodeInvalidTransition  = 1002
	CodeAmountMismatch     = 1003
	CodeScheduleFailed     = 1004
	CodeInsufficientDates  = 1005
	CodeProductUnavailable = 1006
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

// ErrorWithData 失败但仍需返回数据，例如支付已完成而预约失败时返回支付状态
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, CodeForbidden, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}

// Fail 按错误类型输出对应的业务码
func Fail(c *gin.Context, err error) {
	code, message := FromError(err)
	Error(c, code, message)
}

// FromError 领域错误到业务码的映射
// 预约失败包裹了具体原因，需先于其他错误判断
func FromError(err error) (int, string) {
	switch {
	case err == nil:
		return CodeSuccess, "success"
	case errors.Is(err, service.ErrScheduleFailed):
		return CodeScheduleFailed, err.Error()
	case errors.Is(err, service.ErrInvalidArgument):
		return CodeParamError, err.Error()
	case errors.Is(err, service.ErrNotFound):
		return CodeNotFound, service.ErrNotFound.Error()
	case errors.Is(err, service.ErrAlreadySettled):
		return CodeConflict, err.Error()
	case errors.Is(err, service.ErrInsufficientCredit):
		return CodeInsufficientCredit, err.Error()
	case errors.Is(err, service.ErrInvalidTransition):
		return CodeInvalidTransition, err.Error()
	case errors.Is(err, service.ErrAmountMismatch):
		return CodeAmountMismatch, err.Error()
	case errors.Is(err, service.ErrInsufficientDates):
		return CodeInsufficientDates, err.Error()
	case errors.Is(err, service.ErrProductUnavailable):
		return CodeProductUnavailable, err.Error()
	case errors.Is(err, service.ErrGatewayCallFailed):
		return CodeGatewayError, service.ErrGatewayCallFailed.Error()
	case errors.Is(err, service.ErrStorageUnavailable):
		return CodeUnavailable, service.ErrStorageUnavailable.Error()
	}
	return CodeServerError, "服务器内部错误"
}

// HTTPStatus 需要真实 HTTP 状态码的接口（网关回调）使用
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrStorageUnavailable),
		errors.Is(err, service.ErrGatewayCallFailed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
