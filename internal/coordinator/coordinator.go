// Package coordinator drives one conversational turn end to end: retrieve
// relevant memories, build the augmented prompt, route to a backend, generate,
// and persist the exchange off the request path.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kyujaq/hearth/internal/backend"
	"github.com/kyujaq/hearth/internal/memory/policy"
	"github.com/kyujaq/hearth/internal/memory/retrieval"
	"github.com/kyujaq/hearth/internal/memory/store"
	"github.com/kyujaq/hearth/internal/model"
	"github.com/kyujaq/hearth/internal/router"
	"github.com/kyujaq/hearth/internal/shardqueue"
)

// Memory is the slice of the store the coordinator needs.
type Memory interface {
	Runtime() store.Runtime
	Add(ctx context.Context, req store.AddRequest) (store.AddResult, error)
	PutTurn(ctx context.Context, t model.Turn) error
}

// Retriever fetches context for a prompt.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts retrieval.Options) (retrieval.Result, error)
}

// Decider picks a backend for a turn.
type Decider interface {
	Route(conversationID, prompt string) (router.Decision, error)
}

// Queue accepts fire-and-forget persistence jobs.
type Queue interface {
	Submit(ctx context.Context, key string, job shardqueue.Job) error
}

// TurnRequest is one user turn. ConversationID may be empty for anonymous
// one-shot turns; those never participate in session affinity.
type TurnRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	Input          string `json:"input"`
	SystemPrompt   string `json:"systemPrompt,omitempty"`
}

// TurnResponse reports the reply and how it was produced.
type TurnResponse struct {
	TurnID       string `json:"turnId"`
	Reply        string `json:"reply"`
	Backend      string `json:"backend"`
	RouteReason  string `json:"routeReason"`
	MemoryHits   int    `json:"memoryHits"`
	ContextChars int    `json:"contextChars"`
	FromCache    bool   `json:"fromCache"`
}

// Options tunes the coordinator.
type Options struct {
	ContextCharBudget int
	RetrievalKinds    []model.Kind
}

// Coordinator wires the turn pipeline.
type Coordinator struct {
	memory    Memory
	retriever Retriever
	decider   Decider
	registry  *backend.Registry
	policy    *policy.Engine
	queue     Queue
	opts      Options
	log       zerolog.Logger
}

// New builds a Coordinator.
func New(mem Memory, ret Retriever, dec Decider, reg *backend.Registry, pol *policy.Engine, q Queue, opts Options, log zerolog.Logger) *Coordinator {
	if opts.ContextCharBudget <= 0 {
		opts.ContextCharBudget = 2000
	}
	return &Coordinator{
		memory:    mem,
		retriever: ret,
		decider:   dec,
		registry:  reg,
		policy:    pol,
		queue:     q,
		opts:      opts,
		log:       log.With().Str("component", "coordinator").Logger(),
	}
}

// HandleTurn runs one turn. Retrieval failures degrade to an unaugmented
// prompt; generation failures fall back to the deep backend once before
// reporting the backend unavailable.
func (c *Coordinator) HandleTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return TurnResponse{}, errors.Wrap(model.ErrValidation, "empty input")
	}
	turnID := ulid.Make().String()
	// Anonymous turns use the turn id as conversation key so affinity state
	// never leaks between unrelated callers.
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = turnID
	}
	rt := c.memory.Runtime()

	res, err := c.retriever.Retrieve(ctx, input, retrieval.Options{
		TopK:       rt.TopK,
		MinScore:   rt.MinScore,
		Kinds:      c.opts.RetrievalKinds,
		CharBudget: c.opts.ContextCharBudget,
	})
	if err != nil {
		return TurnResponse{}, err
	}

	prompt := buildPrompt(req.SystemPrompt, input, res.Context)

	decision, err := c.decider.Route(conversationID, input)
	if err != nil {
		return TurnResponse{}, err
	}

	reply, served, err := c.generate(ctx, decision.Backend, prompt)
	if err != nil {
		return TurnResponse{}, err
	}

	resp := TurnResponse{
		TurnID:       turnID,
		Reply:        reply,
		Backend:      served.Name,
		RouteReason:  decision.Reason,
		MemoryHits:   res.Hits,
		ContextChars: len(res.Context),
		FromCache:    res.FromCache,
	}
	c.persistAsync(ctx, conversationID, turnID, input, resp)
	return resp, nil
}

func (c *Coordinator) generate(ctx context.Context, desc backend.Descriptor, prompt string) (string, backend.Descriptor, error) {
	client, ok := c.registry.Client(desc.Name)
	if !ok {
		return "", desc, errors.Wrapf(model.ErrBackendUnavailable, "backend %q not registered", desc.Name)
	}
	reply, err := client.Generate(ctx, prompt, desc.MaxTokens)
	if err == nil {
		return reply, desc, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return "", desc, errors.Wrapf(cerr, "generate on %q", desc.Name)
	}
	c.log.Warn().Err(err).Str("backend", desc.Name).Msg("generate failed")

	if desc.Class != model.ClassDeep {
		if deep, ok := c.registry.ByClass(model.ClassDeep); ok && deep.Name != desc.Name {
			if fallback, ok := c.registry.Client(deep.Name); ok {
				reply, ferr := fallback.Generate(ctx, prompt, deep.MaxTokens)
				if ferr == nil {
					return reply, deep, nil
				}
				c.log.Warn().Err(ferr).Str("backend", deep.Name).Msg("fallback generate failed")
			}
		}
	}
	if cerr := ctx.Err(); cerr != nil {
		return "", desc, errors.Wrapf(cerr, "generate on %q", desc.Name)
	}
	return "", desc, errors.Wrapf(model.ErrBackendUnavailable, "generate on %q: %v", desc.Name, err)
}

// persistAsync queues the turn record and any memory-worthy utterances.
// Queue-full and closed errors are logged, never surfaced to the caller.
func (c *Coordinator) persistAsync(ctx context.Context, conversationID, turnID, input string, resp TurnResponse) {
	rt := c.memory.Runtime()
	createdAt := time.Now().UTC()
	detached := context.WithoutCancel(ctx)

	job := shardqueue.JobFunc(func(jctx context.Context) error {
		turn := model.Turn{
			TurnID:         turnID,
			ConversationID: conversationID,
			Input:          input,
			Output:         resp.Reply,
			Backend:        resp.Backend,
			MemoryHits:     resp.MemoryHits,
			ContextChars:   resp.ContextChars,
			CreatedAt:      createdAt,
		}
		if err := c.memory.PutTurn(jctx, turn); err != nil {
			if errors.Is(err, model.ErrValidation) {
				return shardqueue.Permanent(err)
			}
			return err
		}
		c.saveUtterance(jctx, policy.RoleUser, input, turnID, rt.Autosave)
		c.saveUtterance(jctx, policy.RoleAssistant, resp.Reply, turnID, rt.Autosave)
		return nil
	})

	if err := c.queue.Submit(detached, conversationID, job); err != nil {
		c.log.Error().Err(err).Str("turn", turnID).Msg("persist submit failed")
	}
}

func (c *Coordinator) saveUtterance(ctx context.Context, role policy.Role, text, turnID string, autosave bool) {
	if !c.policy.WorthSaving(role, text, autosave) {
		return
	}
	redacted := policy.Redact(text)
	kind, tier := c.policy.Classify(role, redacted)
	_, err := c.memory.Add(ctx, store.AddRequest{
		Text:   redacted,
		Kind:   kind,
		Tier:   tier,
		Source: "conversation",
		Meta:   map[string]string{"turn_id": turnID, "role": string(role)},
	})
	if err != nil && !errors.Is(err, model.ErrValidation) {
		c.log.Error().Err(err).Str("turn", turnID).Msg("memory save failed")
	}
}

func buildPrompt(systemPrompt, input, contextText string) string {
	var b strings.Builder
	if systemPrompt != "" {
		b.WriteString(systemPrompt)
		b.WriteString("\n\n")
	}
	if contextText != "" {
		fmt.Fprintf(&b, "Relevant memory:\n---\n%s\n---\n\n", contextText)
	}
	if b.Len() == 0 {
		return input
	}
	b.WriteString("User: ")
	b.WriteString(input)
	return b.String()
}
