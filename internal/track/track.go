// Package track implements the positional addressing scheme for snapshots.
// A track is an ordered sequence of zero-based child indices from the root of
// a sandbox's snapshot tree; the empty track addresses the root itself.
package track

import (
	"fmt"
	"strconv"
	"strings"

	"folio/internal/services"
)

// Track addresses a snapshot by its child-index path from the root.
type Track []int

// Root is the empty track addressing the tree root.
var Root = Track{}

// Parse converts the textual form ("" for root, "0.2.1" otherwise) into a
// Track. Malformed input is a validation error.
func Parse(value string) (Track, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Track{}, nil
	}
	parts := strings.Split(trimmed, ".")
	out := make(Track, 0, len(parts))
	for _, part := range parts {
		index, err := strconv.Atoi(part)
		if err != nil || index < 0 {
			return nil, services.Wrap(services.ErrValidation, "", "parse track", fmt.Sprintf("invalid segment %q in %q", part, value), nil)
		}
		out = append(out, index)
	}
	return out, nil
}

// String renders the canonical textual form. The root renders as the empty
// string.
func (t Track) String() string {
	if len(t) == 0 {
		return ""
	}
	parts := make([]string, len(t))
	for i, index := range t {
		parts[i] = strconv.Itoa(index)
	}
	return strings.Join(parts, ".")
}

// IsRoot reports whether the track addresses the tree root.
func (t Track) IsRoot() bool { return len(t) == 0 }

// Depth returns the number of segments.
func (t Track) Depth() int { return len(t) }

// Parent returns the track with the last segment dropped. The root's parent
// is the root itself; callers must check IsRoot first when that matters.
func (t Track) Parent() Track {
	if len(t) == 0 {
		return Track{}
	}
	parent := make(Track, len(t)-1)
	copy(parent, t[:len(t)-1])
	return parent
}

// Child returns the track extended by one child index.
func (t Track) Child(index int) Track {
	child := make(Track, len(t)+1)
	copy(child, t)
	child[len(t)] = index
	return child
}

// LastIndex returns the positional index of this node under its parent.
// The root has no position; LastIndex returns -1 for it.
func (t Track) LastIndex() int {
	if len(t) == 0 {
		return -1
	}
	return t[len(t)-1]
}

// Equal reports segment-wise equality.
func (t Track) Equal(other Track) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix addresses this node or one of its
// ancestors.
func (t Track) HasPrefix(prefix Track) bool {
	if len(prefix) > len(t) {
		return false
	}
	for i := range prefix {
		if t[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (t Track) Clone() Track {
	cp := make(Track, len(t))
	copy(cp, t)
	return cp
}
