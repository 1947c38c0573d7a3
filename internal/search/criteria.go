// Package search plans and runs queries over the tag index, the schema and
// the virtual tag evaluator. Stages run narrowest-first so the expensive
// metadata predicates only ever see an already reduced candidate set.
package search

import "tagdex/internal/vtag"

// Mode selects how multiple terms of one criteria field combine.
type Mode int

const (
	ModeAll Mode = iota
	ModeAny
)

func (m Mode) vtagMode() vtag.Mode {
	if m == ModeAny {
		return vtag.ModeAny
	}
	return vtag.ModeAll
}

// PatternType types FilePatterns explicitly; a pattern is never guessed to
// be a regex.
type PatternType int

const (
	PatternGlob PatternType = iota
	PatternRegex
)

// Criteria is one query. Zero value means "every tracked file".
type Criteria struct {
	// Tags are the requested tag terms, combined under TagMode after
	// schema expansion. With TagRegex set, each term is instead a regular
	// expression matched against the stored tag set; schema expansion
	// does not apply to regex terms.
	Tags     []string
	TagMode  Mode
	TagRegex bool

	// ExcludeTags remove files holding any of them. Exclusions expand
	// through the schema the same way Tags do.
	ExcludeTags []string

	// FilePatterns narrow by path, combined under FileMode.
	FilePatterns []string
	FileMode     Mode
	PatternType  PatternType

	// VirtualTags are raw family:value expressions, combined under
	// VirtualMode.
	VirtualTags []string
	VirtualMode Mode

	// NoHierarchy and NoAliases switch off the respective schema
	// expansion for both Tags and ExcludeTags.
	NoHierarchy bool
	NoAliases   bool
}
