package emotion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	analysis "github.com/zhouzirui/emochat/backend/internal/analysis/emotion"
	"github.com/zhouzirui/emochat/backend/internal/logging"
	"github.com/zhouzirui/emochat/backend/internal/metrics"
	"github.com/zhouzirui/emochat/backend/internal/model/chat"
)

// ErrReasoningBudget is returned when the upstream deliberates past its budget
// without producing a visible answer.
var ErrReasoningBudget = errors.New("reasoning budget exceeded")

const (
	outcomeDisabled = "disabled"
	outcomeError    = "error"
	outcomeFallback = "fallback"

	noHistory = "no history"
)

// Config 控制情绪分类服务的行为。
type Config struct {
	// ReasoningBudget caps hidden reasoning, counted in runes, received before
	// the first visible answer fragment. Zero disables the cap.
	ReasoningBudget int
	// BreakerTimeout is how long the breaker stays open after tripping.
	BreakerTimeout time.Duration
}

// Service 通过流式调用大模型，将对话归类为固定的情绪标签之一。
type Service struct {
	classifier compose.Runnable[map[string]any, *schema.Message]
	breaker    *gobreaker.CircuitBreaker
	budget     int
	logger     *zap.Logger
}

// NewService compiles the classification chain around chatModel. A nil
// chatModel yields a service that always answers Neutral.
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg Config, logger *zap.Logger) (*Service, error) {
	logger = logging.OrNop(logger).Named("emotion")

	svc := &Service{
		budget: cfg.ReasoningBudget,
		logger: logger,
	}
	if chatModel == nil {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile emotion classifier chain: %w", err)
	}

	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}

	svc.classifier = runnable
	svc.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "emotion-classifier",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return svc, nil
}

// Enabled 返回是否配置了上游模型。
func (s *Service) Enabled() bool {
	return s != nil && s.classifier != nil
}

// Classify returns the sender's emotion for message given the preceding
// history, oldest first. It never fails: any upstream problem yields Neutral.
func (s *Service) Classify(ctx context.Context, history []chat.HistoryEntry, message string) analysis.Label {
	if !s.Enabled() {
		record(analysis.Neutral, outcomeDisabled)
		return analysis.Neutral
	}

	input := map[string]any{
		"history": formatHistory(history),
		"message": strings.TrimSpace(message),
	}

	started := time.Now()
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.generate(ctx, input)
	})
	if err != nil {
		s.logger.Warn("classifier call failed, use neutral",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(started)),
		)
		record(analysis.Neutral, outcomeError)
		return analysis.Neutral
	}

	raw, _ := result.(string)
	label, match := analysis.Resolve(stripThinking(raw))
	if match == analysis.MatchNone {
		s.logger.Warn("classifier returned unknown label, use neutral", zap.String("raw", raw))
		record(analysis.Neutral, outcomeFallback)
		return analysis.Neutral
	}

	s.logger.Debug("classified message",
		zap.String("label", string(label)),
		zap.String("match", string(match)),
		zap.Duration("elapsed", time.Since(started)),
	)
	record(label, string(match))
	return label
}

func (s *Service) generate(ctx context.Context, input map[string]any) (string, error) {
	stream, err := s.classifier.Stream(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to stream classifier output: %w", err)
	}
	return CollectAnswer(stream, s.budget)
}

// CollectAnswer drains stream and concatenates the visible answer fragments.
// Reasoning fragments are discarded but counted against budget until the first
// visible fragment arrives. Nil and empty chunks are skipped. The stream is
// always closed.
func CollectAnswer(stream *schema.StreamReader[*schema.Message], budget int) (string, error) {
	defer stream.Close()

	var answer strings.Builder
	reasoning := 0
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("receive classifier chunk: %w", err)
		}
		if chunk == nil {
			continue
		}

		if answer.Len() == 0 {
			reasoning += reasoningRunes(chunk)
			if budget > 0 && reasoning > budget {
				return "", fmt.Errorf("%w after %d runes", ErrReasoningBudget, reasoning)
			}
		}
		if chunk.Content != "" {
			answer.WriteString(chunk.Content)
		}
	}
	return answer.String(), nil
}

// reasoningRunes counts hidden reasoning in a chunk. Ark streams it through
// Extra rather than ReasoningContent.
func reasoningRunes(chunk *schema.Message) int {
	n := utf8.RuneCountInString(chunk.ReasoningContent)
	if extra, ok := ark.GetReasoningContent(chunk); ok {
		n += utf8.RuneCountInString(extra)
	}
	return n
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?(</think>|$)`)

// stripThinking drops inline <think> sections some models emit in the answer channel.
func stripThinking(raw string) string {
	return thinkBlock.ReplaceAllString(raw, "")
}

func formatHistory(history []chat.HistoryEntry) string {
	var builder strings.Builder
	for _, entry := range history {
		content := strings.TrimSpace(entry.Content)
		if content == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("[")
		builder.WriteString(strings.TrimSpace(entry.DisplayName))
		builder.WriteString("]: ")
		builder.WriteString(content)
	}
	if builder.Len() == 0 {
		return noHistory
	}
	return builder.String()
}

func record(label analysis.Label, outcome string) {
	metrics.EmotionClassifications.WithLabelValues(string(label), outcome).Inc()
}

func labelList() string {
	labels := analysis.Labels()
	names := make([]string, len(labels))
	for i, label := range labels {
		names[i] = string(label)
	}
	return strings.Join(names, ", ")
}

var systemPrompt = "You are the emotion analysis engine of an instant messaging app. " +
	"Read the recent conversation and the current message, then decide how the sender of the current message feels right now.\n" +
	"Rules:\n" +
	"1. Answer with exactly one label from: " + labelList() + ".\n" +
	"2. If the emotion is unclear or weak, answer neutral.\n" +
	"3. Output only the label word. No punctuation, no explanation, no reasoning."

const userPrompt = "Recent conversation:\n{history}\n\nCurrent message:\n{message}\n\nWhich label fits the sender of the current message?"
