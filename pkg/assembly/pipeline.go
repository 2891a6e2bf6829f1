// Package assembly implements the context assembly pipeline: the read
// path that gathers results from the enabled memory tiers, merges them
// into a single grounding context and produces one generated reply.
//
// The conditional tier queries run concurrently and are joined before
// prompt construction. A failure in any one of them degrades to zero
// results for that tier; only a generative-service failure is fatal to
// the turn.
package assembly

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/samber/lo"

	"github.com/mindweave/mindcore-go/pkg/audit"
	"github.com/mindweave/mindcore-go/pkg/genai"
	"github.com/mindweave/mindcore-go/pkg/tier"
	"github.com/mindweave/mindcore-go/pkg/tier/episodic"
)

// Default retrieval configuration.
const (
	DefaultDepth = 8
	DefaultTopK  = 3
)

// Options tunes one assembly call.
type Options struct {
	// Depth is the number of recent episodic turns included.
	Depth int

	// TopK is the number of semantic matches requested.
	TopK int

	// Contacts lists contact names explicitly mentioned in the query;
	// the first one's profile is looked up in the structured tier.
	Contacts []string
}

// Result is the outcome of one assembled turn.
type Result struct {
	// Text is the generated reply.
	Text string

	// Retrievals holds the raw per-tier query results keyed by tier
	// name, for downstream inspection.
	Retrievals map[string][]tier.Result

	// Prompt is the final prompt sent to the generative service,
	// including the context block when one was built.
	Prompt string

	// Latency is the wall-clock duration of the whole call.
	Latency time.Duration
}

// Pipeline assembles grounded context and generates replies.
type Pipeline struct {
	registry tier.Registry
	service  genai.Service
	trail    *audit.Trail
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAuditTrail records each assembly as a pipeline run.
func WithAuditTrail(t *audit.Trail) Option {
	return func(p *Pipeline) { p.trail = t }
}

// WithLogger sets the logger for degraded-tier warnings.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates an assembly pipeline over the tier registry and
// generative service.
func New(registry tier.Registry, service genai.Service, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry: registry,
		service:  service,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Assemble runs the pipeline for one user turn.
func (p *Pipeline) Assemble(ctx context.Context, conv *episodic.Conversation, query string, opts Options) (*Result, error) {
	start := time.Now()
	if opts.Depth <= 0 {
		opts.Depth = DefaultDepth
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}

	var rec *audit.Recorder
	if p.trail != nil {
		var err error
		rec, err = p.trail.Begin(ctx, "context_assembly")
		if err != nil {
			p.logger.Warn("audit trail unavailable", "error", err)
			rec = nil
		}
	}

	// Episodic history is always retrieved, and its failure is fatal:
	// without it there is no conversation to reply within.
	history, err := p.queryEpisodic(ctx, conv, opts.Depth, rec)
	if err != nil {
		p.finishAudit(ctx, rec, audit.StatusFailed)
		return nil, fmt.Errorf("failed to load episodic history: %w", err)
	}

	retrievals := map[string][]tier.Result{tier.Episodic: history}

	// Conditional tier queries fan out concurrently and are joined
	// before prompt construction. Each failure degrades to nil.
	var (
		wg       sync.WaitGroup
		semantic []tier.Result
		contacts []tier.Result
		graph    []tier.Result
	)

	if conv.EnableSemantic && p.registry.Has(tier.Semantic) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			semantic = p.queryTier(ctx, tier.Semantic, tier.QueryParams{Query: query, Limit: opts.TopK}, rec)
		}()
	}
	if conv.EnableStructured && len(opts.Contacts) > 0 && p.registry.Has(tier.Structured) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			contacts = p.queryTier(ctx, tier.Structured, tier.QueryParams{
				Query:   opts.Contacts[0],
				Limit:   1,
				Filters: map[string]interface{}{"kind": "contact"},
			}, rec)
		}()
	}
	if conv.EnableGraph && p.registry.Has(tier.Graph) {
		if entity := firstProperNoun(query); entity != "" {
			wg.Add(1)
			go func() {
				defer wg.Done()
				graph = p.queryTier(ctx, tier.Graph, tier.QueryParams{Query: entity}, rec)
			}()
		}
	}
	wg.Wait()

	if conv.EnableSemantic {
		retrievals[tier.Semantic] = semantic
	}
	if conv.EnableStructured && len(opts.Contacts) > 0 {
		retrievals[tier.Structured] = contacts
	}
	if conv.EnableGraph {
		retrievals[tier.Graph] = graph
	}

	prompt := buildPrompt(query, semantic, contacts, graph)

	messages := lo.Map(history, func(r tier.Result, _ int) genai.Message {
		role := genai.RoleUser
		if r.Metadata["role"] == "model" {
			role = genai.RoleModel
		}
		return genai.Message{Role: role, Content: r.Text}
	})
	messages = append(messages, genai.Message{Role: genai.RoleUser, Content: prompt})

	genStart := time.Now()
	text, err := p.service.GenerateText(ctx, messages, conv.SystemInstruction)
	if err != nil {
		p.recordStep(ctx, rec, "generate", audit.StatusFailed, query, err.Error(), time.Since(genStart))
		p.finishAudit(ctx, rec, audit.StatusFailed)
		return nil, fmt.Errorf("failed to generate reply: %w", err)
	}
	p.recordStep(ctx, rec, "generate", audit.StatusCompleted, prompt, summarize(text), time.Since(genStart))
	p.finishAudit(ctx, rec, audit.StatusCompleted)

	return &Result{
		Text:       text,
		Retrievals: retrievals,
		Prompt:     prompt,
		Latency:    time.Since(start),
	}, nil
}

func (p *Pipeline) queryEpisodic(ctx context.Context, conv *episodic.Conversation, depth int, rec *audit.Recorder) ([]tier.Result, error) {
	t, err := p.registry.Get(tier.Episodic)
	if err != nil {
		return nil, err
	}

	stepStart := time.Now()
	results, err := t.Query(ctx, tier.QueryParams{ConversationID: conv.ID, Limit: depth})
	if err != nil {
		p.recordStep(ctx, rec, "query_episodic", audit.StatusFailed, conv.ID, err.Error(), time.Since(stepStart))
		return nil, err
	}
	p.recordStep(ctx, rec, "query_episodic", audit.StatusCompleted, conv.ID,
		fmt.Sprintf("%d turns", len(results)), time.Since(stepStart))
	return results, nil
}

// queryTier runs one conditional tier query. Failures are logged,
// recorded and flattened to zero results so they never abort the turn.
func (p *Pipeline) queryTier(ctx context.Context, name string, params tier.QueryParams, rec *audit.Recorder) []tier.Result {
	t, err := p.registry.Get(name)
	if err != nil {
		return nil
	}

	stepStart := time.Now()
	results, err := t.Query(ctx, params)
	if err != nil {
		p.logger.Warn("tier query degraded", "tier", name, "error", err)
		p.recordStep(ctx, rec, "query_"+name, audit.StatusFailed, params.Query, err.Error(), time.Since(stepStart))
		return nil
	}
	p.recordStep(ctx, rec, "query_"+name, audit.StatusCompleted, params.Query,
		fmt.Sprintf("%d results", len(results)), time.Since(stepStart))
	return results
}

func (p *Pipeline) recordStep(ctx context.Context, rec *audit.Recorder, name, status, in, out string, d time.Duration) {
	if rec == nil {
		return
	}
	if err := rec.Step(ctx, name, status, summarize(in), summarize(out), d); err != nil {
		p.logger.Warn("failed to record audit step", "step", name, "error", err)
	}
}

func (p *Pipeline) finishAudit(ctx context.Context, rec *audit.Recorder, status string) {
	if rec == nil {
		return
	}
	if err := rec.Finish(ctx, status); err != nil {
		p.logger.Warn("failed to finalize audit run", "error", err)
	}
}

// buildPrompt concatenates the non-empty result groups under labeled
// sections in fixed order, then prefixes the user query. When every
// section is empty the raw query is returned unchanged.
func buildPrompt(query string, semantic, contacts, graph []tier.Result) string {
	var sections []string

	if lines := resultLines(semantic); len(lines) > 0 {
		sections = append(sections, "Relevant knowledge:\n"+strings.Join(lines, "\n"))
	}
	if lines := resultLines(contacts); len(lines) > 0 {
		sections = append(sections, "Known contacts:\n"+strings.Join(lines, "\n"))
	}
	if lines := resultLines(graph); len(lines) > 0 {
		sections = append(sections, "Related concepts:\n"+strings.Join(lines, "\n"))
	}

	if len(sections) == 0 {
		return query
	}
	return strings.Join(sections, "\n\n") + "\n\n" + query
}

func resultLines(results []tier.Result) []string {
	return lo.FilterMap(results, func(r tier.Result, _ int) (string, bool) {
		text := strings.TrimSpace(r.Text)
		return "- " + text, text != ""
	})
}

func summarize(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// firstProperNoun finds the first capitalized token after the leading
// word. The leading word is skipped because sentence case capitalizes
// it regardless of whether it names anything.
func firstProperNoun(query string) string {
	fields := strings.Fields(query)
	for i, field := range fields {
		if i == 0 {
			continue
		}
		word := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if word == "" {
			continue
		}
		if unicode.IsUpper([]rune(word)[0]) {
			return word
		}
	}
	return ""
}
