package registry

import "errors"

// 登记簿错误分类，调用方通过 errors.Is 判断
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("campaign not found")
	ErrForbidden         = errors.New("caller is not the campaign owner")
	ErrExpired           = errors.New("campaign deadline has passed")
	ErrTooEarly          = errors.New("campaign deadline has not passed yet")
	ErrAlreadyWithdrawn  = errors.New("campaign funds already withdrawn")
	ErrNothingToWithdraw = errors.New("campaign has no funds to withdraw")
	ErrPaymentRejected   = errors.New("payment rejected")
)
