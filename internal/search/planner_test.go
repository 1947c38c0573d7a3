package search

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"tagdex/internal/index"
	"tagdex/internal/schema"
	"tagdex/internal/store"
	"tagdex/internal/vtag"
)

func openTestIndex(t *testing.T) *index.Index {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	idx, err := index.Open(context.Background(), s, index.Options{})
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	return idx
}

// recordingEvaluator captures every path it is asked about and keeps them
// all, so planner tests can assert on the candidate set it received.
type recordingEvaluator struct {
	seen     []string
	warnings []vtag.Warning
}

func (r *recordingEvaluator) EvaluateAll(_ context.Context, _ []vtag.Predicate, _ vtag.Mode, paths []string) ([]string, []vtag.Warning, error) {
	r.seen = append(r.seen, paths...)
	return paths, r.warnings, nil
}

func testEngine(t *testing.T) (*Engine, *index.Index, *schema.Schema, *recordingEvaluator) {
	t.Helper()
	idx := openTestIndex(t)
	sch := schema.New()
	rec := &recordingEvaluator{}
	return NewEngine(idx, sch, rec), idx, sch, rec
}

func tagFile(t *testing.T, idx *index.Index, path string, tags ...string) {
	t.Helper()
	if err := idx.Upsert(context.Background(), path, tags); err != nil {
		t.Fatalf("upsert %s: %v", path, err)
	}
}

func search(t *testing.T, e *Engine, c Criteria) *Result {
	t.Helper()
	res, err := e.Search(context.Background(), c)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	return res
}

func TestSearchTagModes(t *testing.T) {
	e, idx, _, _ := testEngine(t)
	tagFile(t, idx, "A", "x", "y")
	tagFile(t, idx, "B", "x")
	tagFile(t, idx, "C", "y")

	res := search(t, e, Criteria{Tags: []string{"x", "y"}, TagMode: ModeAll})
	if !slices.Equal(res.Files, []string{"A"}) {
		t.Fatalf("ALL expected {A}, got %v", res.Files)
	}

	res = search(t, e, Criteria{Tags: []string{"x", "y"}, TagMode: ModeAny})
	if !slices.Equal(res.Files, []string{"A", "B", "C"}) {
		t.Fatalf("ANY expected {A,B,C}, got %v", res.Files)
	}
}

func TestSearchNoTagsMeansAllTracked(t *testing.T) {
	e, idx, _, _ := testEngine(t)
	tagFile(t, idx, "A", "x")
	tagFile(t, idx, "B", "y")

	res := search(t, e, Criteria{})
	if !slices.Equal(res.Files, []string{"A", "B"}) {
		t.Fatalf("expected all tracked files, got %v", res.Files)
	}
}

func TestSearchHierarchyExpansion(t *testing.T) {
	e, idx, _, _ := testEngine(t)
	tagFile(t, idx, "lib.rs", "lang:rust")
	tagFile(t, idx, "stream.rs", "lang:rust:async")
	tagFile(t, idx, "main.py", "lang:python")

	res := search(t, e, Criteria{Tags: []string{"lang:rust"}})
	if !slices.Equal(res.Files, []string{"lib.rs", "stream.rs"}) {
		t.Fatalf("hierarchy expansion expected both rust files, got %v", res.Files)
	}

	res = search(t, e, Criteria{Tags: []string{"lang:rust"}, NoHierarchy: true})
	if !slices.Equal(res.Files, []string{"lib.rs"}) {
		t.Fatalf("with hierarchy off expected exact tag only, got %v", res.Files)
	}
}

func TestSearchAliasExpansion(t *testing.T) {
	e, idx, sch, _ := testEngine(t)
	if err := sch.AddAlias("js", "javascript"); err != nil {
		t.Fatalf("add alias: %v", err)
	}
	tagFile(t, idx, "app.js", "javascript")

	res := search(t, e, Criteria{Tags: []string{"js"}})
	if !slices.Equal(res.Files, []string{"app.js"}) {
		t.Fatalf("alias search expected app.js, got %v", res.Files)
	}
	res = search(t, e, Criteria{Tags: []string{"javascript"}})
	if !slices.Equal(res.Files, []string{"app.js"}) {
		t.Fatalf("canonical search expected app.js, got %v", res.Files)
	}
	res = search(t, e, Criteria{Tags: []string{"js"}, NoAliases: true})
	if len(res.Files) != 0 {
		t.Fatalf("with aliases off the raw term must not match, got %v", res.Files)
	}
}

func TestSearchExclusions(t *testing.T) {
	e, idx, _, _ := testEngine(t)
	tagFile(t, idx, "keep.go", "go")
	tagFile(t, idx, "drop.go", "go", "vendored")
	tagFile(t, idx, "drop2.go", "go", "generated:proto")

	res := search(t, e, Criteria{
		Tags:        []string{"go"},
		ExcludeTags: []string{"vendored", "generated"},
	})
	if !slices.Equal(res.Files, []string{"keep.go"}) {
		t.Fatalf("expected exclusions to apply with hierarchy, got %v", res.Files)
	}
}

func TestSearchFilePatterns(t *testing.T) {
	e, idx, _, _ := testEngine(t)
	tagFile(t, idx, "src/a.go", "go")
	tagFile(t, idx, "src/b_test.go", "go")
	tagFile(t, idx, "docs/a.md", "go")

	res := search(t, e, Criteria{
		Tags:         []string{"go"},
		FilePatterns: []string{"src/**"},
	})
	if !slices.Equal(res.Files, []string{"src/a.go", "src/b_test.go"}) {
		t.Fatalf("glob filter expected src files, got %v", res.Files)
	}

	res = search(t, e, Criteria{
		Tags:         []string{"go"},
		FilePatterns: []string{`_test\.go$`},
		PatternType:  PatternRegex,
	})
	if !slices.Equal(res.Files, []string{"src/b_test.go"}) {
		t.Fatalf("regex filter expected test file, got %v", res.Files)
	}

	_, err := e.Search(context.Background(), Criteria{
		FilePatterns: []string{"("},
		PatternType:  PatternRegex,
	})
	if err == nil {
		t.Fatalf("bad regex must be a fatal error")
	}
}

func TestSearchGlobMatchesNestedPaths(t *testing.T) {
	e, idx, _, _ := testEngine(t)
	tagFile(t, idx, "src/main.go", "go")
	tagFile(t, idx, "src/deep/util.go", "go")
	tagFile(t, idx, "docs/readme.md", "go")

	res := search(t, e, Criteria{
		Tags:         []string{"go"},
		FilePatterns: []string{"*.go"},
	})
	if !slices.Equal(res.Files, []string{"src/deep/util.go", "src/main.go"}) {
		t.Fatalf("bare glob must match nested paths, got %v", res.Files)
	}
}

func TestSearchRegexTagModes(t *testing.T) {
	e, idx, _, _ := testEngine(t)
	tagFile(t, idx, "lib.rs", "lang:rust")
	tagFile(t, idx, "main.py", "lang:python")
	tagFile(t, idx, "notes.md", "docs")

	res := search(t, e, Criteria{Tags: []string{"^lang:"}, TagRegex: true, TagMode: ModeAny})
	if !slices.Equal(res.Files, []string{"lib.rs", "main.py"}) {
		t.Fatalf("ANY regex expected both lang files, got %v", res.Files)
	}

	res = search(t, e, Criteria{Tags: []string{"^lang:", "rust$"}, TagRegex: true, TagMode: ModeAll})
	if !slices.Equal(res.Files, []string{"lib.rs"}) {
		t.Fatalf("ALL regex expected the rust file only, got %v", res.Files)
	}

	res = search(t, e, Criteria{Tags: []string{"^nothing$"}, TagRegex: true})
	if len(res.Files) != 0 {
		t.Fatalf("a pattern matching no stored tags must yield nothing, got %v", res.Files)
	}

	_, err := e.Search(context.Background(), Criteria{Tags: []string{"("}, TagRegex: true})
	if err == nil {
		t.Fatalf("bad tag pattern must be a fatal error")
	}
}

func TestSearchRegexTagsSkipSchemaExpansion(t *testing.T) {
	e, idx, sch, _ := testEngine(t)
	if err := sch.AddAlias("js", "javascript"); err != nil {
		t.Fatalf("add alias: %v", err)
	}
	tagFile(t, idx, "app.js", "javascript")

	res := search(t, e, Criteria{Tags: []string{"^js$"}, TagRegex: true})
	if len(res.Files) != 0 {
		t.Fatalf("regex terms must match stored tags literally, got %v", res.Files)
	}
	res = search(t, e, Criteria{Tags: []string{"^javascript$"}, TagRegex: true})
	if !slices.Equal(res.Files, []string{"app.js"}) {
		t.Fatalf("expected the stored tag to match, got %v", res.Files)
	}
}

func TestSearchVirtualStageSeesOnlyCandidates(t *testing.T) {
	e, idx, _, rec := testEngine(t)
	tagFile(t, idx, "in.txt", "wanted")
	tagFile(t, idx, "out.txt", "other")

	res := search(t, e, Criteria{
		Tags:        []string{"wanted"},
		VirtualTags: []string{"size:empty"},
	})
	if !slices.Equal(res.Files, []string{"in.txt"}) {
		t.Fatalf("expected in.txt, got %v", res.Files)
	}
	if !slices.Equal(rec.seen, []string{"in.txt"}) {
		t.Fatalf("evaluator must only see the candidate set, saw %v", rec.seen)
	}
}

func TestSearchVirtualParseErrorIsFatal(t *testing.T) {
	e, idx, _, _ := testEngine(t)
	tagFile(t, idx, "a", "x")

	_, err := e.Search(context.Background(), Criteria{
		Tags:        []string{"x"},
		VirtualTags: []string{"size:weird"},
	})
	var perr *vtag.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *vtag.ParseError, got %v", err)
	}
}

func TestSearchWarningsPropagate(t *testing.T) {
	e, idx, _, rec := testEngine(t)
	tagFile(t, idx, "a", "x")
	rec.warnings = []vtag.Warning{{Path: "a", Expr: "size:empty", Err: errors.New("vanished")}}

	res := search(t, e, Criteria{Tags: []string{"x"}, VirtualTags: []string{"size:empty"}})
	if len(res.Warnings) != 1 || res.Warnings[0].Path != "a" {
		t.Fatalf("expected the evaluator warning to surface, got %v", res.Warnings)
	}
}

func TestSearchResultSortedAndDeduplicated(t *testing.T) {
	e, idx, _, _ := testEngine(t)
	tagFile(t, idx, "z", "x", "y")
	tagFile(t, idx, "a", "x")

	res := search(t, e, Criteria{Tags: []string{"x", "y"}, TagMode: ModeAny})
	if !slices.Equal(res.Files, []string{"a", "z"}) {
		t.Fatalf("expected sorted deduplicated result, got %v", res.Files)
	}
}
