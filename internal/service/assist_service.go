package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/lavadoc/internal/metrics"
	appErr "github.com/xxxsen/lavadoc/internal/pkg/errors"
)

// ContentGenerator produces the next document body from the current one and an instruction.
type ContentGenerator interface {
	Generate(ctx context.Context, content, instruction string, hints []string) (string, error)
}

type AssistService struct {
	docs *DocumentService
	gen  ContentGenerator
}

func NewAssistService(docs *DocumentService, gen ContentGenerator) *AssistService {
	return &AssistService{docs: docs, gen: gen}
}

func (s *AssistService) Enabled() bool {
	return s != nil && s.gen != nil
}

// Apply generates new content against the head it observed and then commits
// with that version as the expectation. The generator runs outside the commit,
// so a head that moved in the meantime surfaces as a conflict. The commit posts
// no notice of its own; the chat flow announces assisted edits.
func (s *AssistService) Apply(ctx context.Context, actor, instruction string, hints []string) (*UpdateResult, error) {
	if !s.Enabled() {
		return nil, appErr.ErrUnavailable
	}
	if strings.TrimSpace(instruction) == "" {
		return nil, fmt.Errorf("%w: instruction is required", appErr.ErrInvalid)
	}
	logger := logutil.GetLogger(ctx).With(zap.String("actor", actor))
	head, err := s.docs.GetDocument(ctx)
	if err != nil {
		return nil, err
	}
	observed := head.Version

	start := time.Now()
	content, err := s.gen.Generate(ctx, head.Content, instruction, hints)
	metrics.GeneratorLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AssistRequests.WithLabelValues("generator_error").Inc()
		logger.Error("content generation failed", zap.Int("version", observed), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", appErr.ErrGeneratorFailed, err)
	}

	res, err := s.docs.apply(ctx, mutation{
		content:  content,
		editor:   actor,
		expected: &observed,
		silent:   true,
	})
	if err != nil {
		if appErr.IsConflict(err) {
			metrics.AssistRequests.WithLabelValues("conflict").Inc()
		} else {
			metrics.AssistRequests.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.AssistRequests.WithLabelValues(res.Outcome.String()).Inc()
	return res, nil
}
