// Package resolve turns human-provided item references ("my biology deck")
// into stable item ids. The mutation engine accepts only resolved ids; this
// collaborator sits outside it so the matching strategy can change without
// touching the engine's contract.
package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/studyroomhq/workspace-kit/workspace"
)

var (
	// ErrNoMatch means no item was close enough to the reference.
	ErrNoMatch = errors.New("no item matches the reference")

	// ErrAmbiguous means two or more items matched equally well; the caller
	// must disambiguate rather than have the engine guess.
	ErrAmbiguous = errors.New("reference is ambiguous")
)

// Strategy resolves a reference against a materialized item list.
type Strategy interface {
	Resolve(items []workspace.Item, reference string) (string, error)
}

// Fuzzy resolves references by exact id, then exact case-insensitive name,
// then best normalized edit distance under a threshold.
type Fuzzy struct {
	// MaxDistance is the normalized levenshtein distance (0..1) above which
	// a candidate is not considered a match. Zero means the default of 0.4.
	MaxDistance float64

	// Type restricts matching to items of one kind when set.
	Type workspace.ItemType
}

// Resolve implements Strategy.
func (f Fuzzy) Resolve(items []workspace.Item, reference string) (string, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrNoMatch)
	}

	candidates := items
	if f.Type != "" {
		candidates = nil
		for _, it := range items {
			if it.Type == f.Type {
				candidates = append(candidates, it)
			}
		}
	}

	// Stage 1: exact id.
	for _, it := range candidates {
		if it.ID == ref {
			return it.ID, nil
		}
	}

	// Stage 2: exact name, case-insensitive.
	var exact []string
	for _, it := range candidates {
		if strings.EqualFold(it.Name, ref) {
			exact = append(exact, it.ID)
		}
	}
	if len(exact) == 1 {
		return exact[0], nil
	}
	if len(exact) > 1 {
		return "", fmt.Errorf("%w: %d items named %q", ErrAmbiguous, len(exact), ref)
	}

	// Stage 3: fuzzy by normalized edit distance.
	threshold := f.MaxDistance
	if threshold == 0 {
		threshold = 0.4
	}

	best := threshold
	var bestIDs []string
	for _, it := range candidates {
		d := distance(it.Name, ref)
		switch {
		case d < best:
			best = d
			bestIDs = []string{it.ID}
		case d == best && len(bestIDs) > 0:
			bestIDs = append(bestIDs, it.ID)
		}
	}

	switch len(bestIDs) {
	case 0:
		return "", fmt.Errorf("%w: %q", ErrNoMatch, ref)
	case 1:
		return bestIDs[0], nil
	default:
		return "", fmt.Errorf("%w: %d items are equally close to %q", ErrAmbiguous, len(bestIDs), ref)
	}
}

// distance is the levenshtein distance between the upper-cased strings,
// normalized by the longer length.
func distance(a, b string) float64 {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	if a == "" && b == "" {
		return 0
	}

	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(maxLen)
}
