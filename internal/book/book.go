// Package book loads the option book and revalues it.
package book

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"OptionSentinel/internal/daycount"
	"OptionSentinel/internal/model"

	"gopkg.in/yaml.v3"
)

// ErrPositionNotFound is returned when a position id is not in the book.
var ErrPositionNotFound = errors.New("position not found")

// Book is an ordered, validated set of positions.
type Book struct {
	Positions []model.Position
	index     map[string]int
}

type positionSpec struct {
	ID           string           `yaml:"id"`
	Underlying   string           `yaml:"underlying"`
	Style        string           `yaml:"style"`
	Type         model.OptionType `yaml:"type"`
	Strike       float64          `yaml:"strike"`
	Quantity     float64          `yaml:"quantity"`
	LotSize      float64          `yaml:"lot_size"`
	Volatility   float64          `yaml:"volatility"`
	Expiry       string           `yaml:"expiry"`
	Carry        float64          `yaml:"carry"`
	AverageStart string           `yaml:"average_start"`
	AverageEnd   string           `yaml:"average_end"`
}

type bookFile struct {
	Positions []positionSpec `yaml:"positions"`
}

// Load reads and validates a YAML book file.
func Load(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read book: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML book.
func Parse(data []byte) (*Book, error) {
	var f bookFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse book: %w", err)
	}
	positions := make([]model.Position, 0, len(f.Positions))
	for i, ps := range f.Positions {
		pos, err := ps.toPosition()
		if err != nil {
			return nil, fmt.Errorf("position %d (%s): %w", i+1, ps.ID, err)
		}
		positions = append(positions, pos)
	}
	return New(positions)
}

// New builds a Book from positions, rejecting duplicate ids.
func New(positions []model.Position) (*Book, error) {
	b := &Book{Positions: positions, index: make(map[string]int, len(positions))}
	for i, p := range positions {
		if _, dup := b.index[p.ID]; dup {
			return nil, fmt.Errorf("duplicate position id %q", p.ID)
		}
		b.index[p.ID] = i
	}
	return b, nil
}

// Find returns the position with the given id.
func (b *Book) Find(id string) (*model.Position, error) {
	i, ok := b.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return &b.Positions[i], nil
}

// ExpiredOn returns the positions whose last fixing or expiry is date.
func (b *Book) ExpiredOn(date time.Time) []model.Position {
	return b.ExpiredBetween(date, date)
}

// ExpiredBetween returns the positions whose last fixing falls in
// [from, to], both ends inclusive.
func (b *Book) ExpiredBetween(from, to time.Time) []model.Position {
	lo, hi := daycount.Truncate(from), daycount.Truncate(to)
	var out []model.Position
	for _, p := range b.Positions {
		d := daycount.Truncate(p.LastFixing())
		if !d.Before(lo) && !d.After(hi) {
			out = append(out, p)
		}
	}
	return out
}

func (s positionSpec) toPosition() (model.Position, error) {
	style, err := model.ParseStyle(s.Style)
	if err != nil {
		return model.Position{}, err
	}
	p := model.Position{
		ID:         strings.TrimSpace(s.ID),
		Underlying: strings.TrimSpace(s.Underlying),
		Style:      style,
		Type:       s.Type,
		Strike:     s.Strike,
		Quantity:   s.Quantity,
		LotSize:    s.LotSize,
		Volatility: s.Volatility,
		Carry:      s.Carry,
	}
	if p.LotSize == 0 {
		p.LotSize = 1
	}

	switch style {
	case model.StyleEuropean:
		if p.Expiry, err = daycount.ParseDate(s.Expiry); err != nil {
			return p, fmt.Errorf("expiry: %w", err)
		}
	case model.StyleAsian:
		if p.AverageStart, err = daycount.ParseDate(s.AverageStart); err != nil {
			return p, fmt.Errorf("average_start: %w", err)
		}
		if p.AverageEnd, err = daycount.ParseDate(s.AverageEnd); err != nil {
			return p, fmt.Errorf("average_end: %w", err)
		}
		if p.AverageStart.After(p.AverageEnd) {
			return p, fmt.Errorf("average_start %s is after average_end %s", s.AverageStart, s.AverageEnd)
		}
	}
	return p, validate(&p)
}

func validate(p *model.Position) error {
	switch {
	case p.ID == "":
		return errors.New("id is required")
	case p.Underlying == "":
		return errors.New("underlying is required")
	case !p.Type.Valid():
		return errors.New("type must be call or put")
	case p.Strike <= 0:
		return errors.New("strike must be positive")
	case p.Quantity == 0:
		return errors.New("quantity must not be zero")
	case p.LotSize < 0:
		return errors.New("lot_size must be positive")
	case p.Volatility < 0:
		return errors.New("volatility must not be negative")
	}
	return nil
}
