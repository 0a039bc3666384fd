// Package retrieval supplies relevant prior context for a turn. Lookups are
// cached with a short TTL and fail open so a store outage never blocks a turn.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"

	"github.com/kyujaq/hearth/internal/memory/policy"
	"github.com/kyujaq/hearth/internal/model"
)

// Searcher is the slice of the memory store the client depends on.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, kinds []model.Kind) ([]model.SearchHit, error)
}

// Options tunes one retrieval call.
type Options struct {
	TopK       int
	MinScore   float64
	Kinds      []model.Kind
	CharBudget int
}

// Result is the assembled context for a turn.
type Result struct {
	Hits      int
	Context   string
	FromCache bool
}

// Config tunes the client.
type Config struct {
	CacheTTL      time.Duration
	SearchTimeout time.Duration
	RetryBackoff  time.Duration
}

// Client queries the memory store with caching and fail-open behavior.
type Client struct {
	store Searcher
	cache *ristretto.Cache
	cfg   Config
	log   zerolog.Logger
}

// New constructs a Client. Cache sizing is fixed: retrieval results are small
// and short-lived.
func New(store Searcher, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 3 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20, // ~1MB of concatenated context strings
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval cache: %w", err)
	}
	return &Client{store: store, cache: cache, cfg: cfg, log: log}, nil
}

// Retrieve returns context for query. On transient store failure it retries
// once with a short backoff, then fails open: an empty Result and a nil
// error, never a blocked or failed turn.
func (c *Client) Retrieve(ctx context.Context, query string, opts Options) (Result, error) {
	key := cacheKey(query, opts)
	if v, ok := c.cache.Get(key); ok {
		res := v.(Result)
		res.FromCache = true
		return res, nil
	}

	var hits []model.SearchHit
	op := func() error {
		searchCtx, cancel := context.WithTimeout(ctx, c.cfg.SearchTimeout)
		defer cancel()
		var err error
		hits, err = c.store.Search(searchCtx, query, opts.TopK, opts.Kinds)
		if errors.Is(err, model.ErrValidation) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryBackoff), 1), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if errors.Is(err, model.ErrValidation) {
			return Result{}, err
		}
		c.log.Warn().Err(err).Str("query", truncate(query, 80)).Msg("memory retrieval failed; continuing without context")
		return Result{}, nil
	}

	res := assemble(hits, opts)
	c.cache.SetWithTTL(key, res, int64(len(res.Context)+1), c.cfg.CacheTTL)
	return res, nil
}

// assemble drops hits below MinScore and concatenates the remainder,
// highest score first, into CharBudget.
func assemble(hits []model.SearchHit, opts Options) Result {
	kept := hits[:0:0]
	for _, h := range hits {
		if h.Score >= opts.MinScore {
			kept = append(kept, h)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })

	budget := opts.CharBudget
	if budget <= 0 {
		budget = 2000
	}

	var b strings.Builder
	n := 0
	for _, h := range kept {
		line := h.Text
		if b.Len() > 0 {
			line = "\n" + line
		}
		if b.Len()+len(line) > budget {
			remaining := budget - b.Len()
			// Back off to a rune boundary so the cut never splits a
			// multi-byte character.
			for remaining > 0 && !utf8.RuneStart(line[remaining]) {
				remaining--
			}
			if remaining <= 1 {
				break
			}
			b.WriteString(line[:remaining])
			n++
			break
		}
		b.WriteString(line)
		n++
	}
	return Result{Hits: n, Context: b.String()}
}

func cacheKey(query string, opts Options) string {
	kinds := make([]string, len(opts.Kinds))
	for i, k := range opts.Kinds {
		kinds[i] = string(k)
	}
	sort.Strings(kinds)
	return fmt.Sprintf("%s|%d|%g|%s", policy.Normalize(query), opts.TopK, opts.MinScore, strings.Join(kinds, ","))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
