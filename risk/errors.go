package risk

import (
	"errors"
	"strings"
)

var (
	ErrTradingHalted    = errors.New("trading halted by circuit breaker")
	ErrNotManualState   = errors.New("breaker is not in manual override")
	ErrInvalidThreshold = errors.New("invalid trigger threshold")
	ErrInvalidSteps     = errors.New("invalid recovery steps")
)

// ValidationErrors 聚合配置校验错误，一次性报告全部问题。
type ValidationErrors []error

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(v))
	for _, err := range v {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// OrNil 无错误时返回 nil，便于直接作为 error 返回值。
func (v ValidationErrors) OrNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
