package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/nova/internal/analysis/mood"
	"github.com/zhouzirui/nova/internal/config"
	"github.com/zhouzirui/nova/internal/model/catalog"
	"github.com/zhouzirui/nova/internal/model/task"
)

// Progress statuses reported while the model works.
const (
	StatusComposing = "Composing the answer..."
	StatusWriting   = "Writing the answer..."
)

const historyLimit = 10

// Service answers questions with a chat model behind an eino chain.
type Service struct {
	chatModel model.ChatModel
	services  catalog.Store
	prompts   *PromptManager
	stream    bool
	chain     compose.Runnable[map[string]any, *schema.Message]
	log       zerolog.Logger
}

// NewService creates the Ark chat model described by cfg and wraps it.
func NewService(ctx context.Context, services catalog.Store, cfg config.AIConfig, log zerolog.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, services, cfg.StreamResponse, log)
}

// NewServiceWithModel wraps an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, services catalog.Store, stream bool, log zerolog.Logger) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		services:  services,
		prompts:   NewPromptManager(),
		stream:    stream,
		chain:     runnable,
		log:       log,
	}, nil
}

// StreamingEnabled reports whether answers are read as a stream.
func (s *Service) StreamingEnabled() bool {
	return s.stream
}

// Answer runs the chain for q and returns the complete answer text.
func (s *Service) Answer(ctx context.Context, q task.Question, progress func(status string)) (string, error) {
	input := s.buildChainInput(q)
	progress(StatusComposing)

	var (
		response *schema.Message
		err      error
	)
	if s.stream {
		response, err = s.streamAnswer(ctx, input, progress)
	} else {
		response, err = s.chain.Invoke(ctx, input)
	}
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	s.log.Info().Str("task_id", q.TaskID).Str("service", q.Service).Int("length", len(response.Content)).Msg("generated answer")
	return response.Content, nil
}

func (s *Service) streamAnswer(ctx context.Context, input map[string]any, progress func(string)) (*schema.Message, error) {
	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, recvErr
		}
		if chunk == nil {
			continue
		}
		if len(chunks) == 0 {
			progress(StatusWriting)
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) == 0 {
		return nil, errors.New("model returned an empty stream")
	}
	return schema.ConcatMessages(chunks)
}

func (s *Service) buildChainInput(q task.Question) map[string]any {
	svc, ok := s.services.FindByID(q.Service)
	if !ok {
		svc = catalog.Service{ID: q.Service, Label: q.Service}
	}
	query := q.Query
	if query == "" && q.FilePath != "" {
		query = "Please review the attached file."
	}
	return map[string]any{
		"system":  s.prompts.BuildSystemPrompt(svc, q.FilePath, mood.Analyze(q.Query)),
		"history": buildHistoryMessages(q.History),
		"query":   query,
	}
}

func buildHistoryMessages(turns []task.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if len(turns) > historyLimit {
		startIdx = len(turns) - historyLimit
	}

	history := make([]*schema.Message, 0, 2*(len(turns)-startIdx))
	for _, turn := range turns[startIdx:] {
		history = append(history, schema.UserMessage(turn.Query))
		if turn.Answer != "" {
			history = append(history, schema.AssistantMessage(turn.Answer, nil))
		}
	}
	return history
}
