package enrich

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/leadsync/pkg/redact"
)

// TracedGenerator logs every generation request and response around next.
type TracedGenerator struct {
	next   Generator
	logger *zap.Logger
	calls  atomic.Int64
}

func NewTracedGenerator(next Generator, logger *zap.Logger) *TracedGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TracedGenerator{next: next, logger: logger}
}

func (t *TracedGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	call := t.calls.Add(1)
	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	t.logger.Debug("generate request",
		zap.Int64("call", call),
		zap.Int("promptChars", len(prompt)),
		zap.Int("maxTokens", maxTokens),
		zap.String("deadlineIn", deadlineIn),
		zap.String("promptHead", redact.Truncate(prompt, 160)),
	)

	start := time.Now()
	out, err := t.next.Generate(ctx, prompt, maxTokens)
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		t.logger.Warn("generate failed",
			zap.Int64("call", call),
			zap.Duration("elapsed", elapsed),
			zap.String("err", redact.Secrets(err.Error())),
		)
		return out, err
	}
	t.logger.Debug("generate response",
		zap.Int64("call", call),
		zap.Duration("elapsed", elapsed),
		zap.Int("responseChars", len(out)),
	)
	return out, nil
}

// Calls reports how many requests went through the wrapper.
func (t *TracedGenerator) Calls() int64 { return t.calls.Load() }
