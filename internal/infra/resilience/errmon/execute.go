package errmon

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vietddude/chatwatch/internal/infra/resilience/breaker"
	"github.com/vietddude/chatwatch/internal/infra/resilience/fault"
	"github.com/vietddude/chatwatch/internal/infra/resilience/retry"
	"github.com/vietddude/chatwatch/internal/telemetry"
)

// Options describe a protected call.
type Options struct {
	// Operation names the call and its circuit breaker.
	Operation string
	// Key scopes the breaker to one upstream resource, such as a channel
	// slug. Calls with an empty key share the operation-wide breaker.
	Key       string
	Component string
	User      string
	Policy    retry.Policy
	// Breaker overrides the monitor's breaker defaults on first use.
	Breaker *breaker.Config
	// SkipBreaker runs the call under retry only.
	SkipBreaker bool
}

// BreakerName returns the name of the breaker guarding operation for key.
func BreakerName(operation, key string) string {
	if key == "" {
		return operation
	}
	return operation + ":" + key
}

func (o Options) call() retry.Call {
	return retry.Call{Operation: o.Operation, Component: o.Component, User: o.User}
}

// Execute runs op with the retry policy as the outer loop and the named
// circuit breaker around every attempt. An open breaker stops the loop.
func Execute[T any](ctx context.Context, m *Monitor, opts Options, op func(context.Context) (T, error)) (T, error) {
	return ExecuteWithFallback(ctx, m, opts, op, nil)
}

// ExecuteWithFallback is Execute with a fallback that replaces the final
// failure. If the fallback fails as well the original error is returned.
func ExecuteWithFallback[T any](
	ctx context.Context,
	m *Monitor,
	opts Options,
	op func(context.Context) (T, error),
	fallback func(context.Context, error) (T, error),
) (T, error) {
	ctx, span := telemetry.StartSpan(ctx, opts.Operation,
		attribute.String("chatwatch.component", opts.Component),
		attribute.String("chatwatch.policy", opts.Policy.Name),
	)

	attempt := op
	if !opts.SkipBreaker {
		cb := m.breakers.Get(BreakerName(opts.Operation, opts.Key), opts.Breaker)
		attempt = func(ctx context.Context) (T, error) {
			var rejected error
			result, err := breaker.Run(ctx, cb, func(ctx context.Context) (T, error) {
				v, err := op(ctx)
				if err != nil && isClientError(err) {
					rejected = err
					return v, nil
				}
				return v, err
			}, nil)
			if rejected != nil {
				return result, rejected
			}
			return result, err
		}
	}

	result, err := retry.Run(ctx, m.retry, opts.Policy, opts.call(), attempt)
	if err != nil && fallback != nil {
		if v, fbErr := fallback(ctx, err); fbErr == nil {
			span.SetAttributes(attribute.Bool("chatwatch.fallback", true))
			telemetry.End(span, nil)
			return v, nil
		}
	}
	telemetry.End(span, err)
	return result, err
}

// isClientError reports a 4xx answer about the request itself. The upstream
// is healthy in that case, so the breaker records a success.
func isClientError(err error) bool {
	s := fault.Inspect(err).Status
	return s >= 400 && s < 500 && s != http.StatusRequestTimeout && s != http.StatusTooManyRequests
}
