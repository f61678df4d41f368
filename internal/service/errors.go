package service

import (
	"errors"
)

const (
	Ok                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	InternalServerError = 500
	ServiceUnavailable  = 503
)

var (
	ErrParamInvalid     = errors.New("参数错误")
	ErrNotAuthenticated = errors.New("连接未认证")
	ErrAuthFailed       = errors.New("凭据无效")
	ErrAuthTimeout      = errors.New("认证超时")
	ErrNotMember        = errors.New("不是会话成员")
	ErrMessageNotFound  = errors.New("消息不存在")
	ErrSessionNotFound  = errors.New("会话连接不存在")
	ErrSendRetryable    = errors.New("发送暂时失败，请重试")
	UnExpectedError     = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:     BadRequest,
	ErrNotAuthenticated: Unauthorized,
	ErrAuthFailed:       Unauthorized,
	ErrAuthTimeout:      Unauthorized,
	ErrNotMember:        Forbidden,
	ErrMessageNotFound:  NotFound,
	ErrSessionNotFound:  NotFound,
	ErrSendRetryable:    ServiceUnavailable,
	UnExpectedError:     InternalServerError,
}

// ErrorCode 返回错误对应的业务码，未登记的错误按系统异常处理
func ErrorCode(err error) int {
	for target, code := range ErrorMap {
		if errors.Is(err, target) {
			return code
		}
	}
	return InternalServerError
}
