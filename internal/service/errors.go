package service

import (
	"errors"
	"fmt"

	"mealsub/internal/repository"
)

var (
	ErrInsufficientCredit = errors.New("剩余配送次数不足")
	ErrInvalidTransition  = errors.New("状态变更不合法")
	ErrAmountMismatch     = errors.New("支付金额与订单金额不一致")
	ErrAlreadySettled     = errors.New("支付单已结算")
	ErrGatewayCallFailed  = errors.New("支付网关调用失败")
	ErrNotFound           = errors.New("记录不存在")
	ErrStorageUnavailable = errors.New("存储暂不可用，请稍后重试")

	ErrInsufficientDates  = errors.New("可预约日期不足")
	ErrScheduleFailed     = errors.New("支付已完成，配送预约失败")
	ErrInvalidArgument    = errors.New("参数错误")
	ErrProductUnavailable = errors.New("商品不可购买")
)

var domainErrors = []error{
	ErrInsufficientCredit,
	ErrInvalidTransition,
	ErrAmountMismatch,
	ErrAlreadySettled,
	ErrGatewayCallFailed,
	ErrNotFound,
	ErrStorageUnavailable,
	ErrInsufficientDates,
	ErrScheduleFailed,
	ErrInvalidArgument,
	ErrProductUnavailable,
}

// translate 把仓储层错误转换为领域错误，未识别的错误视为存储不可用
func translate(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	switch {
	case errors.Is(err, repository.ErrBalanceNotFound),
		errors.Is(err, repository.ErrPaymentNotFound),
		errors.Is(err, repository.ErrDeliveryNotFound),
		errors.Is(err, repository.ErrProductNotFound),
		errors.Is(err, repository.ErrUserNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrCreditNotEnough):
		return fmt.Errorf("%w: %v", ErrInsufficientCredit, err)
	case errors.Is(err, repository.ErrDeliveryStatusInvalid),
		errors.Is(err, repository.ErrPaymentStatusInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	case errors.Is(err, repository.ErrPaymentStatusChanged):
		return fmt.Errorf("%w: %v", ErrAlreadySettled, err)
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
