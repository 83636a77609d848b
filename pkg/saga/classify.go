package saga

import (
	"context"
	"errors"

	"github.com/wyfcoding/ledgercore/pkg/breaker"
	"github.com/wyfcoding/ledgercore/pkg/errs"
	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
)

// Classify 在步骤边界把错误归入处理类别。
// 显式标记优先；基础设施的哨兵错误与超时在此统一归类。
func Classify(err error) errs.Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, eventsourcing.ErrConcurrencyConflict):
		return errs.KindConflict
	case errors.Is(err, breaker.ErrServiceUnavailable):
		return errs.KindUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return errs.KindTransient
	default:
		return errs.KindOf(err)
	}
}
