package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"

	"github.com/google/uuid"

	"tagdex/internal/index"
	"tagdex/internal/schema"
	"tagdex/internal/vtag"
)

// Evaluator is the slice of the virtual tag engine the planner needs. The
// planner only ever hands it paths from the already narrowed candidate set.
type Evaluator interface {
	EvaluateAll(ctx context.Context, predicates []vtag.Predicate, mode vtag.Mode, paths []string) ([]string, []vtag.Warning, error)
}

// Result is the outcome of one query. Warnings carry per-file evaluation
// failures; anything fatal comes back as an error from Search instead.
type Result struct {
	Files    []string
	Warnings []vtag.Warning
}

// Engine wires the index, the schema and the evaluator into one query
// surface.
type Engine struct {
	index  *index.Index
	schema *schema.Schema
	eval   Evaluator
}

func NewEngine(idx *index.Index, sch *schema.Schema, eval Evaluator) *Engine {
	return &Engine{index: idx, schema: sch, eval: eval}
}

// Search runs the staged plan: tag lookup, exclusion subtraction, file
// patterns, virtual predicates, then sort and dedup. Each stage only sees
// what the previous one kept.
func (e *Engine) Search(ctx context.Context, c Criteria) (*Result, error) {
	log := slog.With("query_id", uuid.NewString())

	candidates, err := e.tagCandidates(ctx, c)
	if err != nil {
		return nil, err
	}
	log.Debug("tag stage", "tags", len(c.Tags), "candidates", len(candidates))

	if len(c.ExcludeTags) > 0 {
		candidates, err = e.subtractExcluded(ctx, c, candidates)
		if err != nil {
			return nil, err
		}
		log.Debug("exclusion stage", "excludes", len(c.ExcludeTags), "candidates", len(candidates))
	}

	if len(c.FilePatterns) > 0 {
		candidates, err = filterByPatterns(candidates, c.FilePatterns, c.FileMode, c.PatternType)
		if err != nil {
			return nil, err
		}
		log.Debug("pattern stage", "patterns", len(c.FilePatterns), "candidates", len(candidates))
	}

	var warnings []vtag.Warning
	if len(c.VirtualTags) > 0 {
		predicates := make([]vtag.Predicate, 0, len(c.VirtualTags))
		for _, expr := range c.VirtualTags {
			p, err := vtag.Parse(expr)
			if err != nil {
				return nil, err
			}
			predicates = append(predicates, p)
		}
		candidates, warnings, err = e.eval.EvaluateAll(ctx, predicates, c.VirtualMode.vtagMode(), candidates)
		if err != nil {
			return nil, err
		}
		log.Debug("virtual stage", "predicates", len(predicates), "candidates", len(candidates), "warnings", len(warnings))
	}

	slices.Sort(candidates)
	candidates = slices.Compact(candidates)
	return &Result{Files: candidates, Warnings: warnings}, nil
}

// tagCandidates resolves the tag stage. Each term expands through the schema
// to the union of its synonyms and stored descendants, or, under TagRegex,
// to the stored tags its regular expression matches; terms then combine
// under TagMode. No tags means every tracked file.
func (e *Engine) tagCandidates(ctx context.Context, c Criteria) ([]string, error) {
	if len(c.Tags) == 0 {
		return e.index.ListFiles(ctx)
	}

	var stored []string
	if c.TagRegex {
		var err error
		stored, err = e.index.ListTags(ctx)
		if err != nil {
			return nil, err
		}
	}

	var result []string
	seen := make(map[string]struct{})
	for i, term := range c.Tags {
		var expansion []string
		var err error
		if c.TagRegex {
			expansion, err = matchStoredTags(term, stored)
		} else {
			expansion, err = e.schema.ExpandForSearch(ctx, term, e.index, !c.NoHierarchy, !c.NoAliases)
		}
		if err != nil {
			return nil, err
		}
		matched, err := e.index.Union(ctx, expansion)
		if err != nil {
			return nil, err
		}

		if c.TagMode == ModeAny {
			for _, p := range matched {
				if _, ok := seen[p]; !ok {
					seen[p] = struct{}{}
					result = append(result, p)
				}
			}
			continue
		}

		if i == 0 {
			result = matched
			continue
		}
		in := make(map[string]struct{}, len(matched))
		for _, p := range matched {
			in[p] = struct{}{}
		}
		kept := result[:0]
		for _, p := range result {
			if _, ok := in[p]; ok {
				kept = append(kept, p)
			}
		}
		result = kept
		if len(result) == 0 {
			return nil, nil
		}
	}
	return result, nil
}

// matchStoredTags filters the stored tag set through one regex term. A term
// matching nothing yields an empty expansion, so that term contributes no
// files.
func matchStoredTags(term string, stored []string) ([]string, error) {
	re, err := regexp.Compile(term)
	if err != nil {
		return nil, fmt.Errorf("invalid tag pattern %q: %w", term, err)
	}
	var matched []string
	for _, tag := range stored {
		if re.MatchString(tag) {
			matched = append(matched, tag)
		}
	}
	return matched, nil
}

// subtractExcluded drops every candidate holding any exclusion tag.
// Exclusions always combine as ANY.
func (e *Engine) subtractExcluded(ctx context.Context, c Criteria, candidates []string) ([]string, error) {
	excluded := make(map[string]struct{})
	for _, term := range c.ExcludeTags {
		expansion, err := e.schema.ExpandForSearch(ctx, term, e.index, !c.NoHierarchy, !c.NoAliases)
		if err != nil {
			return nil, err
		}
		matched, err := e.index.Union(ctx, expansion)
		if err != nil {
			return nil, err
		}
		for _, p := range matched {
			excluded[p] = struct{}{}
		}
	}

	kept := candidates[:0]
	for _, p := range candidates {
		if _, ok := excluded[p]; !ok {
			kept = append(kept, p)
		}
	}
	return kept, nil
}
