// Package schema manages tag aliases and the implicit tag hierarchy. Aliases
// form a directed graph of alias to canonical edges that must stay acyclic.
// Hierarchy is never stored; it is derived by splitting canonical tags on the
// reserved delimiter.
package schema

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Delimiter separates the levels of a hierarchical tag. It is reserved and
// may not appear in alias names; canonical targets may contain it.
const Delimiter = ":"

var (
	ErrReservedDelimiter = errors.New("alias contains reserved delimiter")
	ErrAliasExists       = errors.New("alias already mapped to a different tag")
	ErrCircularReference = errors.New("alias would create a circular reference")
	ErrAliasNotFound     = errors.New("alias not found")
)

// Alias is one alias to canonical edge.
type Alias struct {
	Name      string
	Canonical string
}

// TagLister is the slice of the index the schema needs for descendant
// expansion: which tags are actually stored.
type TagLister interface {
	ListTags(ctx context.Context) ([]string, error)
}

// Schema holds the alias graph. Lookup is case-insensitive; alias names are
// folded to lower case on insert.
type Schema struct {
	mu      sync.RWMutex
	aliases map[string]string              // folded alias -> canonical
	reverse map[string]map[string]struct{} // folded canonical -> folded aliases
}

func New() *Schema {
	return &Schema{
		aliases: make(map[string]string),
		reverse: make(map[string]map[string]struct{}),
	}
}

func fold(s string) string { return strings.ToLower(s) }

// Canonicalize resolves tag through the alias map until a fixed point. A
// hierarchical tag is canonicalized per level, so an alias can only rename
// a level, never restructure the tag around it. Unknown tags come back
// unchanged.
func (s *Schema) Canonicalize(tag string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels := strings.Split(tag, Delimiter)
	for i, level := range levels {
		levels[i] = s.resolveLocked(level)
	}
	return strings.Join(levels, Delimiter)
}

// resolveLocked follows the alias chain from name to its end. The visited set
// stops runaway walks over damaged persisted data; a well-formed schema never
// needs it.
func (s *Schema) resolveLocked(name string) string {
	current := name
	visited := make(map[string]struct{})
	for {
		key := fold(current)
		next, ok := s.aliases[key]
		if !ok || fold(next) == key {
			return current
		}
		if _, seen := visited[key]; seen {
			return current
		}
		visited[key] = struct{}{}
		current = next
	}
}

// AddAlias records alias as a synonym for canonical. A self-edge is accepted
// and ignored. Re-mapping an existing alias to a different canonical is
// rejected; remove it first.
func (s *Schema) AddAlias(alias, canonical string) error {
	if strings.Contains(alias, Delimiter) {
		return fmt.Errorf("%w: %q", ErrReservedDelimiter, alias)
	}
	if fold(alias) == fold(canonical) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.aliases[fold(alias)]; ok {
		if fold(existing) == fold(canonical) {
			return nil
		}
		return fmt.Errorf("%w: %s is %s", ErrAliasExists, alias, existing)
	}
	if s.reachesLocked(canonical, alias) {
		return fmt.Errorf("%w: %s -> %s", ErrCircularReference, alias, canonical)
	}

	s.aliases[fold(alias)] = canonical
	key := fold(canonical)
	if s.reverse[key] == nil {
		s.reverse[key] = make(map[string]struct{})
	}
	s.reverse[key][fold(alias)] = struct{}{}
	return nil
}

// reachesLocked reports whether following alias edges from `from` arrives at
// `target`. Pure read over the adjacency map; nothing is mutated.
func (s *Schema) reachesLocked(from, target string) bool {
	current := from
	visited := make(map[string]struct{})
	for {
		key := fold(current)
		if key == fold(target) {
			return true
		}
		if _, seen := visited[key]; seen {
			return true // existing cycle, refuse to extend it
		}
		visited[key] = struct{}{}
		next, ok := s.aliases[key]
		if !ok {
			return false
		}
		current = next
	}
}

func (s *Schema) RemoveAlias(alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	canonical, ok := s.aliases[fold(alias)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrAliasNotFound, alias)
	}
	delete(s.aliases, fold(alias))

	key := fold(canonical)
	delete(s.reverse[key], fold(alias))
	if len(s.reverse[key]) == 0 {
		delete(s.reverse, key)
	}
	return nil
}

// Aliases returns every edge, sorted by alias name.
func (s *Schema) Aliases() []Alias {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Alias, 0, len(s.aliases))
	for name, canonical := range s.aliases {
		out = append(out, Alias{Name: name, Canonical: canonical})
	}
	slices.SortFunc(out, func(a, b Alias) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// SynonymsOf returns the alias names mapping to tag's canonical form, sorted.
func (s *Schema) SynonymsOf(tag string) []string {
	canonical := s.Canonicalize(tag)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for name := range s.reverse[fold(canonical)] {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// ExpandForSearch turns one query term into the set of stored tags it should
// match: the canonical form, the raw input, its synonyms when alias expansion
// is on, and its stored descendants when hierarchy expansion is on.
// Descendants are data-dependent, so the index is consulted for the tags that
// actually exist.
func (s *Schema) ExpandForSearch(ctx context.Context, tag string, tags TagLister, includeHierarchy, includeAliases bool) ([]string, error) {
	set := make(map[string]struct{})

	canonical := tag
	if includeAliases {
		canonical = s.Canonicalize(tag)
		set[tag] = struct{}{}
		for _, syn := range s.SynonymsOf(tag) {
			set[syn] = struct{}{}
		}
	}
	set[canonical] = struct{}{}

	if includeHierarchy {
		stored, err := tags.ListTags(ctx)
		if err != nil {
			return nil, err
		}
		prefixes := make([]string, 0, len(set))
		for t := range set {
			prefixes = append(prefixes, t+Delimiter)
		}
		for _, t := range stored {
			for _, prefix := range prefixes {
				if strings.HasPrefix(t, prefix) {
					set[t] = struct{}{}
					break
				}
			}
		}
	}

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	slices.Sort(out)
	return out, nil
}
