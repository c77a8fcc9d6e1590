// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"

	chatctx "github.com/jeranaias/chatgate/internal/context"
	"github.com/jeranaias/chatgate/internal/model"
	"github.com/jeranaias/chatgate/internal/provider"
	"github.com/jeranaias/chatgate/internal/settings"
	"github.com/jeranaias/chatgate/internal/sse"
	"github.com/jeranaias/chatgate/internal/storage"
	"github.com/jeranaias/chatgate/internal/util"
)

// NewConversation as a conversation id asks the gateway to create one.
const NewConversation = "new"

// titleRunes bounds titles derived from the first user message.
const titleRunes = 60

// =============================================================================
// TYPES
// =============================================================================

// Sink receives the frames of one turn.
type Sink interface {
	// Open commits the response to streaming.
	Open() error

	// Send writes one frame. An error means the client is gone.
	Send(f sse.Frame) error
}

// Request is one chat turn as received from a client.
type Request struct {
	// Backend is the provider tag. Empty means mock.
	Backend string

	// Model is the requested model. Settings.Model overrides it.
	Model string

	Messages []model.Message

	// ConversationID selects conversation mode. NewConversation creates one.
	ConversationID string

	Settings settings.Raw

	// WorkingDir is passed to agent backends.
	WorkingDir string
}

// Config holds the gateway limits and defaults.
type Config struct {
	// MaxMessages caps the request message list (0 = unlimited).
	MaxMessages int

	// MaxMessageLength caps each message's content in bytes (0 = unlimited).
	MaxMessageLength int

	// Defaults are applied before normalization. A backend's default
	// model replaces Defaults.Model for that backend.
	Defaults settings.Settings

	// Context bounds the history window.
	Context chatctx.Config
}

// Gateway runs chat turns. It is safe for concurrent use.
type Gateway struct {
	registry *provider.Registry
	store    storage.Store
	locks    *storage.Locks
	builder  *chatctx.Builder
	cfg      Config
	logger   *slog.Logger
}

// New creates a gateway without conversation storage. Requests carrying a
// conversation id are rejected until WithStore is called.
func New(registry *provider.Registry, cfg Config) *Gateway {
	if registry == nil {
		registry = provider.NewRegistry()
	}
	return &Gateway{
		registry: registry,
		locks:    storage.NewLocks(),
		builder:  chatctx.NewBuilder(nil, cfg.Context),
		cfg:      cfg,
		logger:   slog.Default(),
	}
}

// WithStore enables conversation mode. A nil locks gets a private table.
func (g *Gateway) WithStore(store storage.Store, locks *storage.Locks) *Gateway {
	g.store = store
	if locks != nil {
		g.locks = locks
	}
	g.builder = chatctx.NewBuilder(store, g.cfg.Context)
	return g
}

// WithLogger sets the logger.
func (g *Gateway) WithLogger(logger *slog.Logger) *Gateway {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// Registry returns the adapter registry.
func (g *Gateway) Registry() *provider.Registry {
	return g.registry
}

// Locks returns the per-conversation lock table shared with other writers.
func (g *Gateway) Locks() *storage.Locks {
	return g.locks
}

// turn is the resolved state of one request.
type turn struct {
	backend   string
	entry     provider.Entry
	lookupErr error

	settings   settings.Settings
	window     *chatctx.Window
	workingDir string

	// Conversation mode only.
	convID  string
	created bool
	session string
	unlock  func()
}

func (t *turn) release() {
	if t.unlock != nil {
		t.unlock()
	}
}

// result is the outcome of one streaming attempt.
type result struct {
	model     string
	content   string
	session   string
	fragments int

	// Exactly one of these is set on failure.
	fail   *Error
	gone   error
	retry  bool
	reason error
}

// =============================================================================
// HANDLE
// =============================================================================

// Handle runs one turn and writes its frames to sink.
//
// It returns *Error when the turn failed before the sink was opened, and
// the context or sink error when the client went away. Once a terminal
// frame has been written it returns nil, whatever that frame reports.
func (g *Gateway) Handle(ctx context.Context, req Request, sink Sink) error {
	if err := g.validate(req); err != nil {
		return err
	}

	t, err := g.resolve(ctx, req)
	if err != nil {
		return err
	}
	defer t.release()

	return g.stream(ctx, t, sink)
}

// =============================================================================
// VALIDATING
// =============================================================================

func (g *Gateway) validate(req Request) *Error {
	if len(req.Messages) == 0 && req.ConversationID == "" {
		return invalid("messages or conversationId is required")
	}
	if req.ConversationID != "" {
		if g.store == nil {
			return invalid("conversations are not enabled")
		}
		if req.ConversationID == NewConversation {
			if len(req.Messages) == 0 {
				return invalid("a new conversation needs a message")
			}
		} else if err := storage.ValidateID(req.ConversationID); err != nil {
			return invalid("invalid conversationId")
		}
	}

	if g.cfg.MaxMessages > 0 && len(req.Messages) > g.cfg.MaxMessages {
		return invalid("too many messages: %d (max %d)", len(req.Messages), g.cfg.MaxMessages)
	}
	for i, msg := range req.Messages {
		if !msg.Role.Valid() {
			return invalid("message %d: invalid role %q", i, msg.Role)
		}
		if g.cfg.MaxMessageLength > 0 && len(msg.Content) > g.cfg.MaxMessageLength {
			return invalid("message %d: content too long (max %d)", i, g.cfg.MaxMessageLength)
		}
	}
	if req.ConversationID != "" && len(req.Messages) > 0 {
		if last := req.Messages[len(req.Messages)-1]; last.Role != model.RoleUser {
			return invalid("the last message must be from the user")
		}
	}

	if provider.Backend(req.Backend) == provider.BackendDocker && g.requestModel(req) == "" {
		if e, err := g.registry.Lookup(req.Backend); err != nil || e.DefaultModel == "" {
			return invalid("model is required for the docker backend")
		}
	}
	return nil
}

// requestModel returns the model the client asked for, if any.
func (g *Gateway) requestModel(req Request) string {
	if req.Settings.Model != nil && *req.Settings.Model != "" {
		return *req.Settings.Model
	}
	return req.Model
}

// =============================================================================
// RESOLVING
// =============================================================================

func (g *Gateway) resolve(ctx context.Context, req Request) (*turn, error) {
	t := &turn{backend: req.Backend, workingDir: req.WorkingDir}
	if t.backend == "" {
		t.backend = provider.BackendMock.String()
	}

	defaults := g.cfg.Defaults
	t.entry, t.lookupErr = g.registry.Lookup(t.backend)
	if t.lookupErr == nil && t.entry.DefaultModel != "" {
		defaults.Model = t.entry.DefaultModel
	}

	raw := req.Settings
	if m := g.requestModel(req); m != "" {
		raw.Model = &m
	}
	t.settings = settings.Normalize(raw, defaults)
	explicit := req.Settings.SystemPrompt != nil

	if req.ConversationID == "" {
		t.window = g.builder.Trim(req.Messages, t.settings, explicit)
		if len(t.window.Messages) == 0 {
			return nil, invalid("no user or assistant messages to send")
		}
		return t, nil
	}

	if err := g.openConversation(ctx, t, req); err != nil {
		t.release()
		g.discardCreated(ctx, t)
		return nil, err
	}

	var user model.Message
	if n := len(req.Messages); n > 0 {
		user = model.NewMessage(model.RoleUser, req.Messages[n-1].Content)
	}
	stateful := t.lookupErr == nil && t.entry.Adapter.Stateful()
	win, err := g.builder.Build(ctx, chatctx.Request{
		ConversationID:       t.convID,
		User:                 user,
		Settings:             t.settings,
		ExplicitSystemPrompt: explicit,
		Stateful:             stateful,
		HasSession:           t.session != "",
	})
	if err != nil {
		t.release()
		g.discardCreated(ctx, t)
		if errors.Is(err, chatctx.ErrEmptyWindow) {
			return nil, invalid("conversation has no messages to continue from")
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, g.storageError("failed to record message", t.convID, err)
	}
	t.window = win
	return t, nil
}

// openConversation creates or loads the conversation and takes its lock.
func (g *Gateway) openConversation(ctx context.Context, t *turn, req Request) error {
	t.convID = req.ConversationID
	if t.convID == NewConversation {
		title := util.TruncateRunes(util.SingleLine(req.Messages[len(req.Messages)-1].Content), titleRunes)
		conv, err := g.store.Create(ctx, title)
		if err != nil {
			return g.storageError("failed to create conversation", "", err)
		}
		t.convID = conv.ID
		t.created = true
	}

	unlock, err := g.locks.Lock(ctx, t.convID)
	if err != nil {
		return err
	}
	t.unlock = unlock

	conv, err := g.store.Get(ctx, t.convID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return g.storageError("failed to load conversation", t.convID, err)
	}
	t.session = conv.SessionFor(t.backend)
	return nil
}

// discardCreated deletes a conversation this turn created before it failed
// to start, so an aborted "new" request leaves nothing behind.
func (g *Gateway) discardCreated(ctx context.Context, t *turn) {
	if !t.created {
		return
	}
	if err := g.store.Prune(context.WithoutCancel(ctx), t.convID, 0); err != nil {
		g.logger.Warn("STORAGE_ERROR", "conversation", t.convID, "op", "discard", "error", err)
	}
}

func (g *Gateway) storageError(msg, convID string, err error) *Error {
	g.logger.Error("STORAGE_ERROR", "conversation", convID, "error", err)
	if errors.Is(err, storage.ErrConversationNotFound) {
		msg = "conversation not found"
	}
	return storageFailure(msg, err)
}

// =============================================================================
// STREAMING
// =============================================================================

func (g *Gateway) stream(ctx context.Context, t *turn, sink Sink) error {
	if err := sink.Open(); err != nil {
		return err
	}
	start := time.Now()

	entry := t.entry
	canRetry := true
	if t.lookupErr != nil {
		g.fallback(t, t.lookupErr)
		entry = g.registry.Mock()
		canRetry = false
	}

	res := g.attempt(ctx, t, entry, sink, canRetry)
	if res.retry {
		g.fallback(t, res.reason)
		entry = g.registry.Mock()
		res = g.attempt(ctx, t, entry, sink, false)
	}

	if res.gone != nil {
		g.logger.Debug("CLIENT_GONE", "backend", t.backend, "conversation", t.convID, "error", res.gone)
		return res.gone
	}
	if res.fail != nil {
		g.logger.Error("STREAM_ERROR",
			"backend", entry.Adapter.Backend().String(),
			"conversation", t.convID,
			"fragments", res.fragments,
			"error", res.fail)
		return g.terminal(ctx, sink, sse.Frame{Model: res.model, Error: res.fail.Message}, t)
	}

	if err := g.persist(ctx, t, entry, res); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return g.terminal(ctx, sink, sse.Frame{Model: res.model, Error: err.Message}, t)
	}

	g.logger.Debug("TURN_COMPLETE",
		"backend", entry.Adapter.Backend().String(),
		"model", res.model,
		"conversation", t.convID,
		"fragments", res.fragments,
		"duration", time.Since(start))

	return g.terminal(ctx, sink, sse.Frame{Model: res.model, SessionID: res.session}, t)
}

func (g *Gateway) fallback(t *turn, reason error) {
	g.logger.Warn("PROVIDER_FALLBACK", "backend", t.backend, "conversation", t.convID, "error", reason)
}

// attempt runs one adapter under its timeout and relays fragments.
func (g *Gateway) attempt(ctx context.Context, t *turn, entry provider.Entry, sink Sink, canRetry bool) result {
	streamCtx, cancel := context.WithTimeout(ctx, entry.Timeout)
	defer cancel()

	s := t.settings
	s.SystemPrompt = t.window.SystemPrompt
	preq := provider.Request{
		Messages:   t.window.Messages,
		Settings:   s,
		WorkingDir: t.workingDir,
	}
	if entry.Adapter.Backend().String() == t.backend {
		preq.SessionID = t.session
	}

	st, err := entry.Adapter.Stream(streamCtx, preq)
	if err != nil {
		return classify(ctx, streamCtx, err, "", canRetry)
	}

	next, stop := iter.Pull2(st.Fragments)
	defer stop()

	res := result{model: st.Model}
	var sb strings.Builder
	for {
		frag, ferr, ok := next()
		if !ok {
			break
		}
		if ferr != nil {
			if res.fragments == 0 {
				return classify(ctx, streamCtx, ferr, st.Model, canRetry)
			}
			if ctx.Err() != nil {
				return result{gone: ctx.Err()}
			}
			r := result{model: st.Model, fragments: res.fragments}
			r.fail = interrupted("the provider stream was interrupted", ferr)
			return r
		}
		if ctx.Err() != nil {
			return result{gone: ctx.Err()}
		}
		if frag == "" {
			continue
		}
		if err := sink.Send(sse.Frame{Content: frag, Model: st.Model}); err != nil {
			return result{gone: err}
		}
		sb.WriteString(frag)
		res.fragments++
	}

	if ctx.Err() != nil {
		return result{gone: ctx.Err()}
	}
	res.content = sb.String()
	res.session = st.SessionID()
	return res
}

// classify maps a failure seen before any fragment.
func classify(ctx, streamCtx context.Context, err error, modelID string, canRetry bool) result {
	switch {
	case ctx.Err() != nil:
		return result{gone: ctx.Err()}
	case errors.Is(streamCtx.Err(), context.DeadlineExceeded):
		return result{model: modelID, fail: interrupted("the provider timed out", err)}
	case canRetry:
		return result{retry: true, reason: err}
	case errors.Is(err, provider.ErrInterrupted):
		return result{model: modelID, fail: interrupted("the provider stream was interrupted", err)}
	default:
		return result{model: modelID, fail: &Error{Kind: ErrProviderUnavailable, Message: "the provider is unavailable", Cause: err}}
	}
}

// =============================================================================
// COMPLETING
// =============================================================================

// persist appends the assistant message and records a changed session.
func (g *Gateway) persist(ctx context.Context, t *turn, entry provider.Entry, res result) *Error {
	if t.convID == "" {
		return nil
	}
	if ctx.Err() != nil {
		return storageFailure("request cancelled", ctx.Err())
	}

	msg := model.NewMessage(model.RoleAssistant, res.content)
	msg.Model = res.model
	if _, err := g.store.Append(ctx, t.convID, msg); err != nil {
		return g.storageError("failed to save response", t.convID, err)
	}

	if entry.Adapter.Stateful() && res.session != "" && res.session != t.session {
		sess := model.Session{Backend: entry.Adapter.Backend().String(), Handle: res.session}
		if err := g.store.SetSession(ctx, t.convID, sess); err != nil {
			return g.storageError("failed to save session", t.convID, err)
		}
	}
	return nil
}

// terminal writes the one done frame.
func (g *Gateway) terminal(ctx context.Context, sink Sink, f sse.Frame, t *turn) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.Done = true
	f.Content = ""
	f.ConversationID = t.convID
	return sink.Send(f)
}
