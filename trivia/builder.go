/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package trivia

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Options struct {
	Categories       int
	CluesPerCategory int
	PoolSize         int
	MaxAttempts      int
	RetryDelay       time.Duration
	Logger           *zap.SugaredLogger
}

func DefaultOptions() Options {
	return Options{
		Categories:       6,
		CluesPerCategory: 5,
		PoolSize:         100,
		MaxAttempts:      3,
		RetryDelay:       time.Second,
	}
}

// Outcome classifies the result of a full build.
type Outcome int

const (
	Success Outcome = iota
	RetryableFailure
	TerminalFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable_failure"
	case TerminalFailure:
		return "terminal_failure"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

type Result struct {
	Board    *Board
	Attempts int
	Outcome  Outcome
	Err      error
}

// Builder assembles boards from a Service.
type Builder struct {
	svc  Service
	opts Options
	log  *zap.SugaredLogger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBuilder returns a Builder drawing from rng, or from a randomly seeded
// source when rng is nil.
func NewBuilder(svc Service, opts Options, rng *rand.Rand) *Builder {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.PoolSize < opts.Categories {
		opts.PoolSize = opts.Categories
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Builder{
		svc:  svc,
		opts: opts,
		log:  log,
		rng:  rng,
	}
}

func (b *Builder) Options() Options {
	return b.opts
}

// SelectCategoryIDs picks distinct category ids whose advertised clue count
// matches the clues needed per category.
func (b *Builder) SelectCategoryIDs(ctx context.Context) ([]int, error) {
	pool, err := b.svc.Categories(ctx, b.opts.PoolSize)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(pool))
	valid := make([]int, 0, len(pool))
	for _, c := range pool {
		if c.CluesCount != b.opts.CluesPerCategory || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		valid = append(valid, c.ID)
	}

	if len(valid) < b.opts.Categories {
		return nil, fmt.Errorf("%w: found %d, need %d", ErrInsufficientCategories, len(valid), b.opts.Categories)
	}

	return sample(b, valid, b.opts.Categories), nil
}

// FetchCategory loads a category and samples its clues. Clues missing a
// question or an answer are never used.
func (b *Builder) FetchCategory(ctx context.Context, id int) (Category, error) {
	data, err := b.svc.Category(ctx, id)
	if err != nil {
		return Category{}, err
	}
	if data == nil {
		return Category{}, fmt.Errorf("%w: empty category %d", ErrMalformedResponse, id)
	}

	type pair struct{ q, a string }

	seen := make(map[pair]bool, len(data.Clues))
	usable := make([]ClueData, 0, len(data.Clues))
	for _, c := range data.Clues {
		p := pair{strings.TrimSpace(c.Question), strings.TrimSpace(c.Answer)}
		if p.q == "" || p.a == "" || seen[p] {
			continue
		}
		seen[p] = true
		usable = append(usable, c)
	}

	if len(usable) < b.opts.CluesPerCategory {
		return Category{}, fmt.Errorf("%w: category %d (%q) has %d, need %d",
			ErrInsufficientClues, id, data.Title, len(usable), b.opts.CluesPerCategory)
	}

	picked := sample(b, usable, b.opts.CluesPerCategory)

	clues := make([]Clue, len(picked))
	for i, c := range picked {
		clues[i] = Clue{
			Question: c.Question,
			Answer:   c.Answer,
			State:    Hidden,
		}
	}

	return Category{
		ID:    id,
		Title: data.Title,
		Clues: clues,
	}, nil
}

// BuildBoard makes a single attempt at a complete board. Any failure
// discards everything fetched so far.
func (b *Builder) BuildBoard(ctx context.Context) (*Board, error) {
	ids, err := b.SelectCategoryIDs(ctx)
	if err != nil {
		return nil, err
	}

	board := &Board{
		Categories: make([]Category, 0, len(ids)),
	}

	for _, id := range ids {
		cat, err := b.FetchCategory(ctx, id)
		if err != nil {
			return nil, err
		}

		board.Categories = append(board.Categories, cat)
	}

	return board, nil
}

// Build retries BuildBoard from scratch until it succeeds, hits a
// non-retryable error or runs out of attempts.
func (b *Builder) Build(ctx context.Context) Result {
	var err error

	for attempt := 1; attempt <= b.opts.MaxAttempts; attempt++ {
		var board *Board

		board, err = b.BuildBoard(ctx)
		if err == nil {
			return Result{
				Board:    board,
				Attempts: attempt,
				Outcome:  Success,
			}
		}

		b.log.Debugf("BUILD: Attempt %d/%d failed: %v", attempt, b.opts.MaxAttempts, err)

		if !Retryable(err) {
			return Result{
				Attempts: attempt,
				Outcome:  TerminalFailure,
				Err:      err,
			}
		}

		if attempt == b.opts.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return Result{
				Attempts: attempt,
				Outcome:  TerminalFailure,
				Err:      ctx.Err(),
			}
		case <-time.After(b.opts.RetryDelay):
		}
	}

	return Result{
		Attempts: b.opts.MaxAttempts,
		Outcome:  RetryableFailure,
		Err:      err,
	}
}

// sample draws n items from items without replacement. n must not exceed
// len(items).
func sample[T any](b *Builder, items []T, n int) []T {
	pool := slices.Clone(items)

	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < n; i++ {
		j := i + b.rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}

	return pool[:n]
}
