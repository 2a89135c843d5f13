package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"flowmerge/internal/model"
)

// SubmissionError 批次提交在重试后仍失败
type SubmissionError struct {
	Attempts int
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("批次提交失败（已尝试 %d 次）: %v。请减少单次处理的文件数量或检查文件格式后重试", e.Attempts, e.Err)
}

func (e *SubmissionError) Unwrap() []error {
	return []error{model.ErrSubmissionFailed, e.Err}
}

var transientMarkers = []string{
	"database is locked",
	"database table is locked",
	"sqlite_busy",
	"busy",
	"disk i/o error",
	"too many open files",
	"resource temporarily unavailable",
	"connection reset",
}

// IsTransient 是否为可重试的资源类错误
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) && temp.Temporary() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func (p *Processor) newBackOff(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.opts.RetryInitial
	eb.MaxInterval = p.opts.RetryMax
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	eb.Reset()

	retries := p.opts.RetryAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// withRetry 对瞬时错误做指数退避重试，超过次数上限返回 SubmissionError
func (p *Processor) withRetry(ctx context.Context, what string, progress ProgressFunc, fn func(context.Context) error) error {
	attempts := 0
	op := func() error {
		attempts++
		err := fn(ctx)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("transient store error, retrying", "op", what, "attempt", attempts, "wait", wait, "error", err)
		progress(newEvent(EventRetry, fmt.Sprintf("%s失败，%s 后重试（第 %d 次）", what, wait.Round(time.Millisecond), attempts), map[string]interface{}{
			"attempt": attempts,
			"error":   err.Error(),
		}))
	}
	if err := backoff.RetryNotify(op, p.newBackOff(ctx), notify); err != nil {
		return &SubmissionError{Attempts: attempts, Err: err}
	}
	return nil
}
