package vtag

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Mode selects how multiple predicates combine over one file.
type Mode int

const (
	ModeAll Mode = iota
	ModeAny
)

// Warning records a per-file evaluation failure. Failures never abort a
// batch; the file is dropped from the result and the warning surfaced.
type Warning struct {
	Path string
	Expr string
	Err  error
}

// Evaluator checks predicates against live file metadata, with TTL caches
// over stat, line counting and git probes.
type Evaluator struct {
	cfg   Config
	cache *metaCache
}

func NewEvaluator(cfg Config) *Evaluator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Evaluator{cfg: cfg, cache: newMetaCache(cfg)}
}

// Matches reports whether path satisfies p. Errors are per-file (vanished
// file, unreadable metadata, git failure) and are the caller's cue to warn,
// not to abort.
func (e *Evaluator) Matches(ctx context.Context, path string, p Predicate) (bool, error) {
	switch p.Kind {
	case KindModified, KindCreated, KindAccessed:
		meta, err := e.cache.statFor(path)
		if err != nil {
			return false, err
		}
		t := meta.modified
		switch p.Kind {
		case KindCreated:
			t = meta.changed
		case KindAccessed:
			t = meta.accessed
		}
		return p.Time.matches(t), nil

	case KindSize:
		meta, err := e.cache.statFor(path)
		if err != nil {
			return false, err
		}
		return e.sizeMatches(meta.size, p.Size), nil

	case KindExt:
		return filepath.Ext(path) == p.Value, nil

	case KindExtType:
		ext := filepath.Ext(path)
		if ext == "" {
			return false, nil
		}
		return slices.Contains(e.cfg.ExtensionTypes[p.Value], ext), nil

	case KindDir:
		parent := filepath.ToSlash(filepath.Dir(path))
		return parent == p.Value || strings.HasSuffix(parent, "/"+p.Value), nil

	case KindPath:
		return globMatch(p.Glob, filepath.ToSlash(path)), nil

	case KindDepth:
		return p.Range.matches(pathDepth(path)), nil

	case KindPerm:
		meta, err := e.cache.statFor(path)
		if err != nil {
			return false, err
		}
		perm := meta.mode.Perm()
		switch p.Value {
		case "executable":
			return perm&0o111 != 0, nil
		case "readable":
			return perm&0o444 != 0, nil
		case "writable":
			return perm&0o222 != 0, nil
		case "readonly":
			return perm&0o222 == 0, nil
		}
		return false, nil

	case KindLines:
		meta, err := e.cache.statFor(path)
		if err != nil {
			return false, err
		}
		if !meta.regular {
			return false, nil
		}
		n, err := e.cache.linesFor(path)
		if err != nil {
			return false, err
		}
		return p.Range.matches(n), nil

	case KindGit:
		info, err := e.gitFor(ctx, path)
		if err != nil {
			return false, err
		}
		return e.gitMatches(info, p.Value), nil
	}
	return false, nil
}

// EvaluateAll filters paths through predicates under mode with a bounded
// worker pool. Per-file failures become warnings and drop the file; the
// returned error is only ever context cancellation. Output order is
// unspecified.
func (e *Evaluator) EvaluateAll(ctx context.Context, predicates []Predicate, mode Mode, paths []string) ([]string, []Warning, error) {
	if len(predicates) == 0 {
		return slices.Clone(paths), nil, nil
	}

	jobs := make(chan string)
	var (
		mu       sync.Mutex
		kept     []string
		warnings []Warning
		wg       sync.WaitGroup
	)
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				ok, warn := e.evaluateOne(ctx, path, predicates, mode)
				mu.Lock()
				if warn != nil {
					warnings = append(warnings, *warn)
				} else if ok {
					kept = append(kept, path)
				}
				mu.Unlock()
			}
		}()
	}

	var cancelled error
feed:
	for _, path := range paths {
		select {
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		case jobs <- path:
		}
	}
	close(jobs)
	wg.Wait()
	return kept, warnings, cancelled
}

func (e *Evaluator) evaluateOne(ctx context.Context, path string, predicates []Predicate, mode Mode) (bool, *Warning) {
	for _, p := range predicates {
		ok, err := e.Matches(ctx, path, p)
		if err != nil {
			slog.Warn("virtual tag evaluation failed", "path", path, "vtag", p.Expr, "err", err)
			return false, &Warning{Path: path, Expr: p.Expr, Err: err}
		}
		if mode == ModeAll && !ok {
			return false, nil
		}
		if mode == ModeAny && ok {
			return true, nil
		}
	}
	return mode == ModeAll, nil
}

func (e *Evaluator) sizeMatches(size uint64, c SizeCond) bool {
	switch c.Op {
	case sizeEmpty:
		return size == 0
	case sizeCategory:
		switch c.Category {
		case "tiny":
			return size < e.cfg.SizeTiny
		case "small":
			return size >= e.cfg.SizeTiny && size < e.cfg.SizeSmall
		case "medium":
			return size >= e.cfg.SizeSmall && size < e.cfg.SizeMedium
		case "large":
			return size >= e.cfg.SizeMedium && size < e.cfg.SizeLarge
		case "huge":
			return size >= e.cfg.SizeLarge
		}
		return false
	case sizeGreater:
		return size > c.Min
	case sizeLess:
		return size < c.Min
	case sizeEquals:
		return size == c.Min
	case sizeRange:
		return size >= c.Min && size <= c.Max
	}
	return false
}

func (c TimeCond) matches(t time.Time) bool {
	now := time.Now()
	switch c.Op {
	case timeToday:
		return !t.Before(startOfDay(now))
	case timeYesterday:
		today := startOfDay(now)
		return !t.Before(today.AddDate(0, 0, -1)) && t.Before(today)
	case timeThisWeek:
		// Weeks start on Monday.
		offset := (int(now.Weekday()) + 6) % 7
		return !t.Before(startOfDay(now).AddDate(0, 0, -offset))
	case timeThisMonth:
		y, m, _ := now.Date()
		return !t.Before(time.Date(y, m, 1, 0, 0, 0, 0, now.Location()))
	case timeThisYear:
		return !t.Before(time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()))
	case timeLastN:
		return !t.Before(now.Add(-c.Window))
	case timeAfter:
		return !t.Before(c.Start)
	case timeBefore:
		return t.Before(c.Start)
	case timeBetween:
		return !t.Before(c.Start) && t.Before(c.End)
	}
	return false
}

// globMatch matches with separator-crossing semantics: a bare "*.go" matches
// nested paths too, so the pattern is also tried anchored anywhere in the
// tree.
func globMatch(pattern, path string) bool {
	if ok, _ := doublestar.Match(pattern, path); ok {
		return true
	}
	if strings.HasPrefix(pattern, "**/") {
		return false
	}
	ok, _ := doublestar.Match("**/"+pattern, path)
	return ok
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// pathDepth counts the path's components: "a/b/c.txt" has depth 3.
func pathDepth(path string) uint64 {
	clean := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(path)), "/")
	if clean == "" || clean == "." {
		return 0
	}
	return uint64(strings.Count(clean, "/") + 1)
}
