package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/lavadoc/internal/metrics"
	"github.com/xxxsen/lavadoc/internal/model"
	appErr "github.com/xxxsen/lavadoc/internal/pkg/errors"
	"github.com/xxxsen/lavadoc/internal/pkg/timeutil"
	"github.com/xxxsen/lavadoc/internal/repo"
)

const (
	maxNicknameChars = 50
	maxMessageChars  = 4000
	assistHistory    = 20
)

var assistCommand = regexp.MustCompile(`(?is)@lava\s+(.+)`)

type ChatService struct {
	log      repo.MessageLog
	keep     int
	assist   *AssistService
	notifier NotificationSink
}

func NewChatService(log repo.MessageLog, keep int, assist *AssistService, notifier NotificationSink) *ChatService {
	if notifier == nil {
		notifier = nopSink{}
	}
	return &ChatService{log: log, keep: keep, assist: assist, notifier: notifier}
}

type SendResult struct {
	Message         *model.Message  `json:"message"`
	DocumentUpdated bool            `json:"document_updated"`
	Document        *model.Document `json:"document,omitempty"`
}

// AssistInstruction returns the instruction of an `@lava <instruction>` message.
func AssistInstruction(text string) (string, bool) {
	m := assistCommand.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	instruction := strings.TrimSpace(m[1])
	return instruction, instruction != ""
}

func (s *ChatService) Send(ctx context.Context, nickname, text string) (*SendResult, error) {
	nickname = strings.TrimSpace(nickname)
	text = strings.TrimSpace(text)
	if nickname == "" || text == "" {
		return nil, fmt.Errorf("%w: nickname and text are required", appErr.ErrInvalid)
	}
	if utf8.RuneCountInString(nickname) > maxNicknameChars || utf8.RuneCountInString(text) > maxMessageChars {
		return nil, fmt.Errorf("%w: message too long", appErr.ErrInvalid)
	}
	msg := &model.Message{
		ID:        newID(),
		Nickname:  nickname,
		Text:      text,
		Timestamp: timeutil.NowUnixMilli(),
	}
	if err := s.log.AppendMessage(ctx, msg, s.keep); err != nil {
		return nil, appErr.PersistenceFault(err)
	}
	metrics.Messages.Inc()
	result := &SendResult{Message: msg}

	instruction, ok := AssistInstruction(text)
	if !ok || !s.assist.Enabled() {
		return result, nil
	}
	logger := logutil.GetLogger(ctx).With(zap.String("nickname", nickname))
	res, err := s.assist.Apply(ctx, nickname, instruction, s.hints(ctx))
	switch {
	case err == nil:
		result.Document = res.Document
		result.DocumentUpdated = res.Outcome == OutcomeMutated
		if result.DocumentUpdated {
			s.notifier.Post(ctx, SystemActor, fmt.Sprintf("Document updated by %s using @lava", nickname))
		}
	case appErr.IsConflict(err):
		logger.Warn("assist edit lost the race", zap.Error(err))
		s.notifier.Post(ctx, SystemActor, "Error: the document changed while @lava was working, please try again")
	default:
		logger.Error("assist edit failed", zap.Error(err))
		s.notifier.Post(ctx, SystemActor, "Error: Failed to update document with @lava command")
	}
	return result, nil
}

func (s *ChatService) hints(ctx context.Context) []string {
	recent, err := s.log.ListMessages(ctx, assistHistory)
	if err != nil {
		logutil.GetLogger(ctx).Warn("load chat history for assist failed", zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(recent))
	for _, m := range recent {
		out = append(out, m.Nickname+": "+m.Text)
	}
	return out
}

func (s *ChatService) List(ctx context.Context, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > s.keep {
		limit = s.keep
	}
	msgs, err := s.log.ListMessages(ctx, limit)
	if err != nil {
		return nil, appErr.PersistenceFault(err)
	}
	return msgs, nil
}
