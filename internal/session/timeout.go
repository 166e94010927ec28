package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/fitjourney/internal/model"
)

// withTimeout はfnを待機上限付きで実行する。
// 上限を超えた場合はErrTimeoutを返し、その後に届いた結果は破棄する。
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	var zero T
	select {
	case r := <-ch:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: no response within %s", model.ErrTimeout, d)
		}
		return r.v, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: no response within %s", model.ErrTimeout, d)
		}
		return zero, ctx.Err()
	}
}
