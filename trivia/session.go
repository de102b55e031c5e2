/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package trivia

import (
	"sync"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// Session holds the one active board of a game. Each build is tagged with a
// generation, and only the result of the latest generation is kept.
type Session struct {
	mu         sync.Mutex
	generation uint64
	status     Status
	board      *Board
	result     Result
}

func NewSession() *Session {
	return &Session{status: StatusIdle}
}

// Begin starts a new build generation and drops the current board.
func (s *Session) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.status = StatusLoading
	s.board = nil
	s.result = Result{}

	return s.generation
}

// Complete stores the result of build gen. It reports false, and leaves the
// session untouched, when a newer build has begun since.
func (s *Session) Complete(gen uint64, res Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return false
	}

	s.result = res
	if res.Outcome == Success && res.Board != nil {
		s.status = StatusReady
		s.board = res.Board
	} else {
		s.status = StatusFailed
		s.board = nil
	}

	return true
}

func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.generation
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

func (s *Session) Reveal(category, clue int) (Reveal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusReady || s.board == nil {
		return Reveal{}, ErrNoBoard
	}

	return s.board.Reveal(category, clue)
}

type CellView struct {
	State    RevealState `json:"state"`
	Text     string      `json:"text"`
	Answered bool        `json:"answered"`
}

type CategoryView struct {
	Title string     `json:"title"`
	Cells []CellView `json:"cells"`
}

// View is the complete render state of a session.
type View struct {
	Generation uint64         `json:"generation"`
	Status     Status         `json:"status"`
	Error      string         `json:"error,omitempty"`
	Retryable  bool           `json:"retryable,omitempty"`
	Attempts   int            `json:"attempts,omitempty"`
	Categories []CategoryView `json:"categories,omitempty"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Generation: s.generation,
		Status:     s.status,
		Attempts:   s.result.Attempts,
	}

	if s.status == StatusFailed && s.result.Err != nil {
		v.Error = s.result.Err.Error()
		v.Retryable = s.result.Outcome == RetryableFailure
	}

	if s.board == nil {
		return v
	}

	v.Categories = make([]CategoryView, len(s.board.Categories))
	for i := range s.board.Categories {
		cat := &s.board.Categories[i]

		cells := make([]CellView, len(cat.Clues))
		for j := range cat.Clues {
			clue := &cat.Clues[j]
			cells[j] = CellView{
				State:    clue.State,
				Text:     clue.Text(),
				Answered: clue.State == Answer,
			}
		}

		v.Categories[i] = CategoryView{
			Title: cat.Title,
			Cells: cells,
		}
	}

	return v
}
