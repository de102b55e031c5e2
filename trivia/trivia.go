/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package trivia builds Jeopardy-style boards from a remote trivia service
// and tracks the reveal progress of every clue on them.
package trivia

import "fmt"

// Placeholder is shown in place of a clue that has not been revealed yet.
const Placeholder = "?"

// RevealState is the visibility stage of a single clue.
type RevealState int

const (
	Hidden RevealState = iota
	Question
	Answer
)

func (s RevealState) String() string {
	switch s {
	case Hidden:
		return "hidden"
	case Question:
		return "question"
	case Answer:
		return "answer"
	default:
		return fmt.Sprintf("RevealState(%d)", int(s))
	}
}

func (s RevealState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RevealState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "hidden":
		*s = Hidden
	case "question":
		*s = Question
	case "answer":
		*s = Answer
	default:
		return fmt.Errorf("unknown reveal state %q", text)
	}

	return nil
}

type Clue struct {
	Question string      `json:"question"`
	Answer   string      `json:"answer"`
	State    RevealState `json:"state"`
}

// Text is what a board cell displays for the clue in its current state.
func (c *Clue) Text() string {
	switch c.State {
	case Question:
		return c.Question
	case Answer:
		return c.Answer
	default:
		return Placeholder
	}
}

type Category struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Clues []Clue `json:"clues"`
}

// Board is an ordered set of categories; slice order is column order.
type Board struct {
	Categories []Category `json:"categories"`
}

// Reveal describes the outcome of a click on a board cell.
type Reveal struct {
	Category int         `json:"category"`
	Clue     int         `json:"clue"`
	State    RevealState `json:"state"`
	Text     string      `json:"text"`
	Answered bool        `json:"answered"`
	Changed  bool        `json:"changed"`
}

// Reveal advances the clue at the given coordinates one step through
// Hidden -> Question -> Answer. Clicking an answered clue changes nothing.
func (b *Board) Reveal(category, clue int) (Reveal, error) {
	if category < 0 || category >= len(b.Categories) {
		return Reveal{}, fmt.Errorf("%w: category %d", ErrNoSuchClue, category)
	}

	clues := b.Categories[category].Clues
	if clue < 0 || clue >= len(clues) {
		return Reveal{}, fmt.Errorf("%w: clue %d in category %d", ErrNoSuchClue, clue, category)
	}

	c := &clues[clue]

	changed := true
	switch c.State {
	case Hidden:
		c.State = Question
	case Question:
		c.State = Answer
	default:
		changed = false
	}

	return Reveal{
		Category: category,
		Clue:     clue,
		State:    c.State,
		Text:     c.Text(),
		Answered: c.State == Answer,
		Changed:  changed,
	}, nil
}

// Valid reports whether the board holds exactly categories columns of
// exactly clues clues each.
func (b *Board) Valid(categories, clues int) bool {
	if b == nil || len(b.Categories) != categories {
		return false
	}

	for _, cat := range b.Categories {
		if len(cat.Clues) != clues {
			return false
		}
	}

	return true
}
