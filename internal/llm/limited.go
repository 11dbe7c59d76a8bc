package llm

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limited wraps a client with a request rate limit and a cap on in-flight
// calls. Waiting for either honors ctx.
type Limited struct {
	next    LLMClient
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

// NewLimited returns next unchanged when both limits are disabled
// (rps <= 0 and maxConcurrent <= 0).
func NewLimited(next LLMClient, rps float64, maxConcurrent int64) LLMClient {
	if rps <= 0 && maxConcurrent <= 0 {
		return next
	}
	l := &Limited{next: next}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	if maxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(maxConcurrent)
	}
	return l
}

func (l *Limited) Complete(ctx context.Context, req Request) (string, error) {
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer l.sem.Release(1)
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return l.next.Complete(ctx, req)
}
