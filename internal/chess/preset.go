package chess

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrUnknownDifficulty = errors.New("unknown difficulty")

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// DifficultyPreset selects one search strategy and its knobs.
type DifficultyPreset struct {
	Name Difficulty
	// Depth is the nominal alpha-beta depth in plies; zero means random play.
	Depth            int
	Quiescence       bool
	MaxQuiescencePly int
	Structural       bool
	// ApproxRating is the rating a human is measured against in rated
	// machine games.
	ApproxRating int
}

var presetMu sync.RWMutex

var DefaultPresets = map[Difficulty]DifficultyPreset{
	Easy: {
		Name:         Easy,
		Depth:        0,
		ApproxRating: 800,
	},
	Medium: {
		Name:         Medium,
		Depth:        3,
		ApproxRating: 1200,
	},
	Hard: {
		Name:             Hard,
		Depth:            5,
		Quiescence:       true,
		MaxQuiescencePly: 8,
		Structural:       true,
		ApproxRating:     1600,
	},
}

func GetPreset(name string) (DifficultyPreset, error) {
	key := Difficulty(strings.ToLower(strings.TrimSpace(name)))
	switch key {
	case "beginner", "level1", "1":
		key = Easy
	case "intermediate", "level2", "2", "":
		key = Medium
	case "advanced", "master", "level3", "3":
		key = Hard
	}
	presetMu.RLock()
	p, ok := DefaultPresets[key]
	presetMu.RUnlock()
	if ok {
		return p, nil
	}
	return DifficultyPreset{}, fmt.Errorf("%w: %s", ErrUnknownDifficulty, name)
}

// SetPreset replaces a preset after validation.
func SetPreset(p DifficultyPreset) error {
	if err := ValidatePreset(p); err != nil {
		return err
	}
	presetMu.Lock()
	DefaultPresets[p.Name] = p
	presetMu.Unlock()
	return nil
}

func ValidatePreset(p DifficultyPreset) error {
	switch {
	case p.Name != Easy && p.Name != Medium && p.Name != Hard:
		return fmt.Errorf("unknown difficulty: %s", p.Name)
	case p.Depth < 0 || p.Depth > 8:
		return fmt.Errorf("depth %d out of range 0-8", p.Depth)
	case p.Name != Easy && p.Depth == 0:
		return fmt.Errorf("%s requires depth > 0", p.Name)
	case p.MaxQuiescencePly < 0:
		return fmt.Errorf("quiescence limit must be >= 0: %d", p.MaxQuiescencePly)
	case p.ApproxRating <= 0:
		return fmt.Errorf("approx rating must be > 0: %d", p.ApproxRating)
	}
	return nil
}
