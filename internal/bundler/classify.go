package bundler

import (
	"fmt"
	"regexp"
	"strconv"

	"pqwallet/internal/errors"
)

// aaCodePattern 入口点标准错误码，出现在bundler错误消息内，如 "AA25 invalid account nonce"
var aaCodePattern = regexp.MustCompile(`AA(\d{2,3})`)

// classifyHTTPStatus 按HTTP状态码分类：5xx服务端故障可重试，4xx请求错误不可重试
func classifyHTTPStatus(status int, body string) *errors.WalletError {
	if status >= 500 {
		return errors.WrapError(
			fmt.Errorf("HTTP %d: %s", status, body),
			errors.ErrorTypeBundler, errors.SeverityMedium,
			"BUNDLER_SERVER_ERROR", "bundler服务端错误")
	}
	return errors.NewNonRetryableRpcError(
		"BUNDLER_CLIENT_ERROR",
		fmt.Sprintf("bundler拒绝请求: HTTP %d: %s", status, body), nil)
}

// classifyRPCError 按JSON-RPC错误分类。消息中的AA码决定可重试性：
// AA10–AA39为校验失败，AA40以上与三位码为资金类失败，两者修改请求前重试无意义；
// 未命中AA码的错误按瞬时故障对待
func classifyRPCError(code int, message string) *errors.WalletError {
	if match := aaCodePattern.FindStringSubmatch(message); match != nil {
		num, _ := strconv.Atoi(match[1])
		switch {
		case len(match[1]) == 2 && num >= 10 && num <= 39:
			e := errors.NewNonRetryableRpcError("VALIDATION_REVERT",
				fmt.Sprintf("操作未通过bundler校验 (AA%s): %s", match[1], message), nil)
			e.Type = errors.ErrorTypeValidationRevert
			return e
		case len(match[1]) == 3 || num >= 40:
			e := errors.NewNonRetryableRpcError("INSUFFICIENT_FUNDS",
				fmt.Sprintf("资金或支付方失败 (AA%s): %s", match[1], message), nil)
			e.Type = errors.ErrorTypeFunding
			return e
		}
	}

	return errors.WrapError(
		fmt.Errorf("RPC错误 %d: %s", code, message),
		errors.ErrorTypeBundler, errors.SeverityMedium,
		"BUNDLER_RPC_ERROR", "bundler返回未分类错误")
}
