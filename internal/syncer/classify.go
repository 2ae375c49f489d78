package syncer

import (
	"fmt"

	"calmirror/internal/model"
)

// Mode says how a response relates to the cached set.
type Mode int

const (
	// Incremental responses only carry changes and tombstones.
	Incremental Mode = iota
	// Full responses are the complete current state.
	Full
)

func (m Mode) String() string {
	if m == Full {
		return "full"
	}
	return "incremental"
}

// DefaultFullThreshold is the item count above which the heuristic
// classifier assumes the server did a forced full resync.
const DefaultFullThreshold = 20

// Classifier decides whether a response replaces or patches the cache.
type Classifier interface {
	Classify(resp *model.Response, cacheEmpty bool) Mode
}

// HeuristicClassifier guesses the mode for APIs that do not always expose
// a sync cursor. Rules, first match wins:
//  1. a next sync token is present
//  2. the cache is empty and the response is not
//  3. more than Threshold items
//
// each mean Full; anything else is Incremental.
type HeuristicClassifier struct {
	Threshold int
}

func (c HeuristicClassifier) Classify(resp *model.Response, cacheEmpty bool) Mode {
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = DefaultFullThreshold
	}
	switch {
	case resp.NextSyncToken != "":
		return Full
	case cacheEmpty && len(resp.Items) > 0:
		return Full
	case len(resp.Items) > threshold:
		return Full
	default:
		return Incremental
	}
}

// TokenClassifier trusts sources that report whether a response was
// produced from a sync token.
type TokenClassifier struct{}

func (TokenClassifier) Classify(resp *model.Response, _ bool) Mode {
	if resp.Delta {
		return Incremental
	}
	return Full
}

// FullClassifier treats every response as a snapshot, for sources such as
// ICS feeds that always return the whole calendar.
type FullClassifier struct{}

func (FullClassifier) Classify(*model.Response, bool) Mode {
	return Full
}

// NewClassifier builds a classifier by config name: "heuristic" (default),
// "token" or "full".
func NewClassifier(name string, threshold int) (Classifier, error) {
	switch name {
	case "", "heuristic":
		return HeuristicClassifier{Threshold: threshold}, nil
	case "token":
		return TokenClassifier{}, nil
	case "full":
		return FullClassifier{}, nil
	default:
		return nil, fmt.Errorf("syncer: unknown classifier %q", name)
	}
}
