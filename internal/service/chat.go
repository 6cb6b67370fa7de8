package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sakif/chatrelay/internal/apperror"
	"github.com/sakif/chatrelay/internal/llm"
)

// DefaultChatTimeout bounds a single relay when no timeout is configured.
const DefaultChatTimeout = 30 * time.Second

var (
	chatRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_chat_requests_total",
			Help: "Chat relay calls by outcome",
		},
		[]string{"outcome"},
	)

	chatProviderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_chat_provider_duration_seconds",
			Help:    "Time spent waiting on the completion provider",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// ChatConfig tunes ChatService.
type ChatConfig struct {
	// Timeout caps each provider call, retries included.
	Timeout time.Duration
	// SystemPrompt, when set, is sent ahead of the user's message.
	SystemPrompt string
}

// ChatService relays one user message to the provider and returns the reply.
// It keeps no history: every call is a new one-message conversation.
type ChatService struct {
	provider llm.Provider
	cfg      ChatConfig
	logger   *slog.Logger
}

// NewChatService wires a ChatService.
func NewChatService(provider llm.Provider, cfg ChatConfig, logger *slog.Logger) *ChatService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultChatTimeout
	}
	return &ChatService{provider: provider, cfg: cfg, logger: logger}
}

// Send forwards message and returns the assistant's reply.
//
// A blank message fails with apperror.ErrEmptyMessage before the provider is
// contacted. Provider errors, timeouts and empty replies all become
// apperror.ErrProvider.
func (s *ChatService) Send(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		chatRequestsTotal.WithLabelValues("empty_message").Inc()
		return "", apperror.EmptyMessage()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	reply, err := s.provider.Complete(ctx, s.conversation(message))
	chatProviderDuration.Observe(time.Since(start).Seconds())

	if err == nil && strings.TrimSpace(reply) == "" {
		err = llm.ErrEmptyReply
	}
	if err != nil {
		outcome := "provider_error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		chatRequestsTotal.WithLabelValues(outcome).Inc()
		s.logger.Error("chat relay failed",
			slog.String("outcome", outcome),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return "", apperror.ProviderFailed(fmt.Errorf("service/chat: %w", err))
	}

	chatRequestsTotal.WithLabelValues("ok").Inc()
	return reply, nil
}

// conversation builds a fresh message list for one exchange.
func (s *ChatService) conversation(message string) []llm.Message {
	msgs := make([]llm.Message, 0, 2)
	if s.cfg.SystemPrompt != "" {
		msgs = append(msgs, llm.SystemMessage(s.cfg.SystemPrompt))
	}
	return append(msgs, llm.UserMessage(message))
}
