/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package trivia

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
)

type fakeService struct {
	mu            sync.Mutex
	pool          []CategorySummary
	categories    map[int]*CategoryData
	poolFailures  int
	poolErr       error
	poolCalls     int
	categoryCalls int
}

// newFakeService serves count categories holding clues clues each.
func newFakeService(count, clues int) *fakeService {
	f := &fakeService{categories: make(map[int]*CategoryData)}

	for id := 1; id <= count; id++ {
		f.add(id, clues)
	}

	return f
}

func (f *fakeService) add(id, clues int) *CategoryData {
	data := &CategoryData{
		ID:         id,
		Title:      fmt.Sprintf("category %d", id),
		CluesCount: clues,
	}
	for i := 0; i < clues; i++ {
		data.Clues = append(data.Clues, ClueData{
			ID:       id*100 + i,
			Question: fmt.Sprintf("question %d.%d", id, i),
			Answer:   fmt.Sprintf("answer %d.%d", id, i),
		})
	}

	f.pool = append(f.pool, CategorySummary{ID: id, Title: data.Title, CluesCount: clues})
	f.categories[id] = data

	return data
}

func (f *fakeService) Categories(ctx context.Context, count int) ([]CategorySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.poolCalls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.poolErr != nil {
		return nil, f.poolErr
	}
	if f.poolFailures > 0 {
		f.poolFailures--
		return nil, fmt.Errorf("%w: connection refused", ErrNetworkFailure)
	}

	if count > len(f.pool) {
		count = len(f.pool)
	}

	return append([]CategorySummary(nil), f.pool[:count]...), nil
}

func (f *fakeService) Category(ctx context.Context, id int) (*CategoryData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.categoryCalls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, ok := f.categories[id]
	if !ok {
		return nil, fmt.Errorf("%w: 404 Not Found", ErrNetworkFailure)
	}

	cp := *data
	cp.Clues = append([]ClueData(nil), data.Clues...)

	return &cp, nil
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryDelay = 0

	return opts
}

func testRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
