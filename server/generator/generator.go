package generator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/riverchat/riverchat/server/ai"
	rcerrors "github.com/riverchat/riverchat/server/internal/errors"
	"github.com/riverchat/riverchat/server/internal/observability"
	"github.com/riverchat/riverchat/store"
)

// ragTopK is the number of knowledge chunks retrieved per turn.
const ragTopK = 3

// Request describes one generation turn.
type Request struct {
	UserID   int32
	ChatUID  string
	Model    string
	Message  string
	UseTools bool
	// TagUID selects a knowledge tag for retrieval. Empty disables retrieval.
	TagUID string
}

// TokenEvent is one item on the generation stream. Exactly one terminal event
// is delivered: either Done or Err, never both.
type TokenEvent struct {
	Delta string
	Done  bool
	Err   error
}

// requestCheck is one validation predicate; returns nil when the request
// passes.
type requestCheck func(*Request) *rcerrors.Error

// requestChecks run in order; the first failure aborts the request before any
// side effect.
var requestChecks = []requestCheck{
	func(r *Request) *rcerrors.Error {
		if r.ChatUID == "" {
			return rcerrors.InvalidArgument("chat uid must not be empty")
		}
		return nil
	},
	func(r *Request) *rcerrors.Error {
		if strings.TrimSpace(r.Message) == "" {
			return rcerrors.InvalidArgument("message must not be empty")
		}
		return nil
	},
	func(r *Request) *rcerrors.Error {
		if r.UserID <= 0 {
			return rcerrors.Unauthorized("missing caller identity")
		}
		return nil
	},
}

// Generator orchestrates a generation turn: ownership check, user-message
// persistence, context assembly, streaming, and at-most-once assistant
// persistence.
type Generator struct {
	store    *store.Store
	embedder ai.Embedder
	streamer ai.Streamer
	logger   *slog.Logger
}

// New creates a Generator. embedder may be nil when retrieval is disabled.
func New(st *store.Store, embedder ai.Embedder, streamer ai.Streamer, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		store:    st,
		embedder: embedder,
		streamer: streamer,
		logger:   logger,
	}
}

// Generate runs one turn. Failures before the model stream opens are returned
// directly with zero events; once the returned channel exists, all outcomes
// arrive on it. The user message is persisted before the model is called, so
// it survives even when generation fails. The assistant message is persisted
// exactly once, after the stream completes, and only when the stream produced
// content and no error.
func (g *Generator) Generate(ctx context.Context, req *Request) (<-chan TokenEvent, error) {
	rc := observability.NewRequestContext(g.logger, "generator", req.UserID)

	for _, check := range requestChecks {
		if err := check(req); err != nil {
			return nil, err
		}
	}

	owned, err := g.store.IsChatOwnedBy(ctx, req.ChatUID, req.UserID)
	if err != nil {
		return nil, rcerrors.Internal("failed to check chat ownership", err)
	}
	if !owned {
		return nil, rcerrors.Unauthorized("chat not found or not owned by caller")
	}

	var tagUID *string
	if req.TagUID != "" {
		tagOwned, err := g.store.IsTagOwnedBy(ctx, req.TagUID, req.UserID)
		if err != nil {
			return nil, rcerrors.Internal("failed to check tag ownership", err)
		}
		if !tagOwned {
			return nil, rcerrors.Unauthorized("knowledge tag not found or not owned by caller")
		}
		tagUID = &req.TagUID
	}

	// History is captured before the current turn is persisted so the prompt
	// carries only prior turns.
	history, err := g.store.ListMessages(ctx, req.ChatUID)
	if err != nil {
		return nil, rcerrors.Internal("failed to load chat history", err)
	}

	userMsg := &store.Message{
		ChatUID: req.ChatUID,
		Role:    store.MessageRoleUser,
		Content: req.Message,
		TagUID:  tagUID,
	}
	if _, err := g.store.CreateMessage(ctx, userMsg, req.UserID); err != nil {
		return nil, rcerrors.Internal("failed to persist user message", err)
	}

	// The first user message names the chat.
	if len(history) == 0 {
		if err := g.store.UpdateChatTitle(ctx, req.ChatUID, req.UserID, titleFromMessage(req.Message)); err != nil {
			rc.Warn("failed to set chat title", slog.String("error", err.Error()))
		}
	}

	messages, err := g.assembleContext(ctx, req, history)
	if err != nil {
		return nil, err
	}

	rc.Info("generation started",
		slog.String(observability.LogFieldChatUID, req.ChatUID),
		slog.String(observability.LogFieldTagUID, req.TagUID),
		slog.Int("history_len", len(history)),
	)

	contentChan, errChan := g.streamer.ChatStream(ctx, req.Model, messages)

	events := make(chan TokenEvent)
	go g.pump(ctx, rc, req, contentChan, errChan, events)
	return events, nil
}

// assembleContext builds the model prompt: system template, optional
// retrieval block, prior history, and the current user message.
func (g *Generator) assembleContext(ctx context.Context, req *Request, history []*store.Message) ([]ai.Message, error) {
	messages := []ai.Message{{Role: "system", Content: systemPrompt(req.UseTools)}}

	if req.TagUID != "" {
		block, err := g.retrieve(ctx, req)
		if err != nil {
			return nil, err
		}
		messages = append(messages, ai.Message{Role: "system", Content: block})
	}

	for _, msg := range history {
		messages = append(messages, ai.Message{Role: string(msg.Role), Content: msg.Content})
	}
	messages = append(messages, ai.Message{Role: "user", Content: req.Message})
	return messages, nil
}

func (g *Generator) retrieve(ctx context.Context, req *Request) (string, error) {
	if g.embedder == nil {
		return "", rcerrors.InvalidArgument("retrieval requested but no embedding model is configured")
	}

	embedding, err := g.embedder.Embedding(ctx, req.Message)
	if err != nil {
		return "", err
	}

	matches, err := g.store.SearchChunksByVector(ctx, &store.SearchChunks{
		Embedding: embedding,
		TagUID:    req.TagUID,
		Limit:     ragTopK,
	})
	if err != nil {
		return "", rcerrors.Internal("failed to search knowledge base", err)
	}
	return buildRAGContext(matches), nil
}

// pump forwards model tokens to the caller while buffering the full reply.
// The reply is persisted once, after the stream closes cleanly with content.
func (g *Generator) pump(ctx context.Context, rc *observability.RequestContext, req *Request, contentChan <-chan string, errChan <-chan error, events chan<- TokenEvent) {
	defer close(events)

	var buffer strings.Builder
	for delta := range contentChan {
		buffer.WriteString(delta)
		select {
		case events <- TokenEvent{Delta: delta}:
		case <-ctx.Done():
			// The consumer is gone; there is nobody left to deliver an
			// error event to. Log and stop without persisting.
			rc.Warn("generation interrupted",
				slog.String(observability.LogFieldChatUID, req.ChatUID),
				slog.Int64(observability.LogFieldDuration, rc.DurationMs()),
			)
			return
		}
	}

	if err := <-errChan; err != nil {
		g.emit(ctx, events, TokenEvent{Err: err})
		rc.Error("generation failed", err,
			slog.String(observability.LogFieldChatUID, req.ChatUID),
			slog.String(observability.LogFieldErrorKind, string(rcerrors.KindOf(err, rcerrors.KindUpstreamModel))),
			slog.Int64(observability.LogFieldDuration, rc.DurationMs()),
		)
		return
	}

	reply := buffer.String()
	if reply != "" {
		assistantMsg := &store.Message{
			ChatUID: req.ChatUID,
			Role:    store.MessageRoleAssistant,
			Content: reply,
		}
		if _, err := g.store.CreateMessage(ctx, assistantMsg, req.UserID); err != nil {
			g.emit(ctx, events, TokenEvent{Err: rcerrors.Internal("failed to persist assistant message", err)})
			rc.Error("assistant persistence failed", err,
				slog.String(observability.LogFieldChatUID, req.ChatUID),
			)
			return
		}
	}

	g.emit(ctx, events, TokenEvent{Done: true})
	rc.Info("generation completed",
		slog.String(observability.LogFieldChatUID, req.ChatUID),
		slog.Int("reply_len", len(reply)),
		slog.Int64(observability.LogFieldDuration, rc.DurationMs()),
	)
}

func (g *Generator) emit(ctx context.Context, events chan<- TokenEvent, ev TokenEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
