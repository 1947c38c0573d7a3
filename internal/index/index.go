// Package index maintains the two synchronized collections at the heart of
// the catalog: a forward tree mapping file path to its tag set and a reverse
// tree mapping tag to the set of paths holding it. Every mutation updates
// both sides inside a single store transaction, so no reader ever observes
// the forward and reverse index disagreeing about a path.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"tagdex/internal/store"
)

// ErrInvalidPath is returned when a path is empty or not valid UTF-8.
var ErrInvalidPath = errors.New("invalid path")

type Index struct {
	store *store.Store
	files *store.Tree
	tags  *store.Tree

	// keepUntagged keeps forward entries with an empty tag set instead of
	// deleting them, for files tracked through attributes other than tags.
	keepUntagged bool
}

type Options struct {
	KeepUntagged bool
}

func Open(ctx context.Context, s *store.Store, opts Options) (*Index, error) {
	files, err := s.Tree(ctx, "files")
	if err != nil {
		return nil, err
	}
	tags, err := s.Tree(ctx, "tags")
	if err != nil {
		return nil, err
	}
	return &Index{store: s, files: files, tags: tags, keepUntagged: opts.KeepUntagged}, nil
}

func validatePath(path string) error {
	if path == "" || !utf8.ValidString(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return nil
}

// Upsert replaces the full tag set for path. Reverse entries are updated from
// the symmetric difference between the old and new sets; entries left empty
// are pruned.
func (i *Index) Upsert(ctx context.Context, path string, tags []string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	tx, err := i.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	old, _, err := i.tagsTx(ctx, tx, path)
	if err != nil {
		return err
	}
	if err := i.writeEntryTx(ctx, tx, path, old, tags); err != nil {
		return err
	}
	return tx.Commit()
}

// AddTags merges tags into the existing set for path without touching
// unrelated tags.
func (i *Index) AddTags(ctx context.Context, path string, tags []string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	tx, err := i.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	old, _, err := i.tagsTx(ctx, tx, path)
	if err != nil {
		return err
	}
	merged := make([]string, 0, len(old)+len(tags))
	merged = append(merged, old...)
	merged = append(merged, tags...)
	if err := i.writeEntryTx(ctx, tx, path, old, merged); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveTags drops the given tags from path. Removing the last tag deletes
// the forward entry unless the index keeps untagged files.
func (i *Index) RemoveTags(ctx context.Context, path string, tags []string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	tx, err := i.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	old, found, err := i.tagsTx(ctx, tx, path)
	if err != nil {
		return err
	}
	if !found {
		return tx.Commit()
	}
	drop := toSet(tags)
	kept := make([]string, 0, len(old))
	for _, t := range old {
		if _, ok := drop[t]; !ok {
			kept = append(kept, t)
		}
	}
	if err := i.writeEntryTx(ctx, tx, path, old, kept); err != nil {
		return err
	}
	return tx.Commit()
}

// Remove deletes the forward entry and prunes path from every tag it held.
// Reports whether the path was tracked.
func (i *Index) Remove(ctx context.Context, path string) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	tx, err := i.store.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	old, found, err := i.tagsTx(ctx, tx, path)
	if err != nil {
		return false, err
	}
	if !found {
		return false, tx.Commit()
	}
	if err := i.removeFromReverseTx(ctx, tx, path, old); err != nil {
		return false, err
	}
	if _, err := i.files.DeleteTx(ctx, tx, path); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// RemoveTagGlobally strips tag from every file holding it and returns the
// number of files that became untracked as a result.
func (i *Index) RemoveTagGlobally(ctx context.Context, tag string) (int, error) {
	tx, err := i.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	paths, err := i.lookupTx(ctx, tx, tag)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range paths {
		old, found, err := i.tagsTx(ctx, tx, path)
		if err != nil {
			return 0, err
		}
		if !found {
			continue
		}
		kept := make([]string, 0, len(old))
		for _, t := range old {
			if t != tag {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 && !i.keepUntagged {
			removed++
		}
		if err := i.writeEntryTx(ctx, tx, path, old, kept); err != nil {
			return 0, err
		}
	}
	return removed, tx.Commit()
}

// Tags returns the tag set for path and whether the path is tracked.
func (i *Index) Tags(ctx context.Context, path string) ([]string, bool, error) {
	if err := validatePath(path); err != nil {
		return nil, false, err
	}
	raw, found, err := i.files.Get(ctx, path)
	if err != nil || !found {
		return nil, false, err
	}
	tags, err := store.DecodeStrings(raw)
	if err != nil {
		return nil, false, fmt.Errorf("entry for %s: %w", path, err)
	}
	return tags, true, nil
}

// Lookup returns the paths holding tag. A tag with no files yields an empty
// slice, not an error.
func (i *Index) Lookup(ctx context.Context, tag string) ([]string, error) {
	raw, found, err := i.tags.Get(ctx, tag)
	if err != nil || !found {
		return nil, err
	}
	paths, err := store.DecodeStrings(raw)
	if err != nil {
		return nil, fmt.Errorf("reverse entry for %s: %w", tag, err)
	}
	return paths, nil
}

// Intersect returns paths holding every one of tags. Computed as set
// operations over per-tag lookups, never a full scan.
func (i *Index) Intersect(ctx context.Context, tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	result, err := i.Lookup(ctx, tags[0])
	if err != nil {
		return nil, err
	}
	for _, tag := range tags[1:] {
		if len(result) == 0 {
			return nil, nil
		}
		next, err := i.Lookup(ctx, tag)
		if err != nil {
			return nil, err
		}
		in := toSet(next)
		kept := result[:0]
		for _, p := range result {
			if _, ok := in[p]; ok {
				kept = append(kept, p)
			}
		}
		result = kept
	}
	return result, nil
}

// Union returns paths holding at least one of tags.
func (i *Index) Union(ctx context.Context, tags []string) ([]string, error) {
	seen := make(map[string]struct{})
	var result []string
	for _, tag := range tags {
		paths, err := i.Lookup(ctx, tag)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				result = append(result, p)
			}
		}
	}
	return result, nil
}

// ListTags returns every distinct tag, in order. Cost is proportional to the
// number of tags, not tag-file pairs.
func (i *Index) ListTags(ctx context.Context) ([]string, error) {
	return i.tags.Keys(ctx)
}

// ListFiles returns every tracked path, in order.
func (i *Index) ListFiles(ctx context.Context) ([]string, error) {
	return i.files.Keys(ctx)
}

func (i *Index) Contains(ctx context.Context, path string) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	_, found, err := i.files.Get(ctx, path)
	return found, err
}

func (i *Index) Count(ctx context.Context) (int, error) {
	return i.files.Len(ctx)
}

// Clear drops every forward and reverse entry. Irreversible.
func (i *Index) Clear(ctx context.Context) error {
	tx, err := i.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, tree := range []*store.Tree{i.files, i.tags} {
		keys, err := tree.Keys(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if _, err := tree.DeleteTx(ctx, tx, k); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// Flush forces a durability checkpoint on the backing store.
func (i *Index) Flush(ctx context.Context) error {
	return i.store.Flush(ctx)
}

func (i *Index) tagsTx(ctx context.Context, tx *sql.Tx, path string) ([]string, bool, error) {
	raw, found, err := i.files.GetTx(ctx, tx, path)
	if err != nil || !found {
		return nil, false, err
	}
	tags, err := store.DecodeStrings(raw)
	if err != nil {
		return nil, false, fmt.Errorf("entry for %s: %w", path, err)
	}
	return tags, true, nil
}

func (i *Index) lookupTx(ctx context.Context, tx *sql.Tx, tag string) ([]string, error) {
	raw, found, err := i.tags.GetTx(ctx, tx, tag)
	if err != nil || !found {
		return nil, err
	}
	paths, err := store.DecodeStrings(raw)
	if err != nil {
		return nil, fmt.Errorf("reverse entry for %s: %w", tag, err)
	}
	return paths, nil
}

// writeEntryTx applies the transition from old to next tag set for path:
// forward entry rewrite plus reverse-index maintenance for the symmetric
// difference only.
func (i *Index) writeEntryTx(ctx context.Context, tx *sql.Tx, path string, old, next []string) error {
	oldSet := toSet(old)
	nextSet := toSet(next)

	var added, removed []string
	for t := range nextSet {
		if _, ok := oldSet[t]; !ok {
			added = append(added, t)
		}
	}
	for t := range oldSet {
		if _, ok := nextSet[t]; !ok {
			removed = append(removed, t)
		}
	}

	if err := i.removeFromReverseTx(ctx, tx, path, removed); err != nil {
		return err
	}
	if err := i.addToReverseTx(ctx, tx, path, added); err != nil {
		return err
	}

	if len(nextSet) == 0 && !i.keepUntagged {
		_, err := i.files.DeleteTx(ctx, tx, path)
		return err
	}
	return i.files.PutTx(ctx, tx, path, store.EncodeStrings(next))
}

func (i *Index) addToReverseTx(ctx context.Context, tx *sql.Tx, path string, tags []string) error {
	for _, tag := range tags {
		paths, err := i.lookupTx(ctx, tx, tag)
		if err != nil {
			return err
		}
		paths = append(paths, path)
		if err := i.tags.PutTx(ctx, tx, tag, store.EncodeStrings(paths)); err != nil {
			return err
		}
	}
	return nil
}

func (i *Index) removeFromReverseTx(ctx context.Context, tx *sql.Tx, path string, tags []string) error {
	for _, tag := range tags {
		paths, err := i.lookupTx(ctx, tx, tag)
		if err != nil {
			return err
		}
		kept := paths[:0]
		for _, p := range paths {
			if p != path {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			// Prune the entry entirely; empty reverse entries are never kept.
			if _, err := i.tags.DeleteTx(ctx, tx, tag); err != nil {
				return err
			}
			continue
		}
		if err := i.tags.PutTx(ctx, tx, tag, store.EncodeStrings(kept)); err != nil {
			return err
		}
	}
	return nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

// CheckConsistency walks both trees and reports any forward/reverse
// disagreement. Used by tests and the cleanup command.
func (i *Index) CheckConsistency(ctx context.Context) error {
	forward := make(map[string]map[string]struct{})
	err := i.files.ForEach(ctx, func(path string, raw []byte) error {
		tags, err := store.DecodeStrings(raw)
		if err != nil {
			return fmt.Errorf("entry for %s: %w", path, err)
		}
		forward[path] = toSet(tags)
		return nil
	})
	if err != nil {
		return err
	}

	seen := make(map[string]map[string]struct{})
	err = i.tags.ForEach(ctx, func(tag string, raw []byte) error {
		paths, err := store.DecodeStrings(raw)
		if err != nil {
			return fmt.Errorf("reverse entry for %s: %w", tag, err)
		}
		if len(paths) == 0 {
			return fmt.Errorf("orphan reverse entry for %s", tag)
		}
		for _, p := range paths {
			tags, ok := forward[p]
			if !ok {
				return fmt.Errorf("tag %s references untracked path %s", tag, p)
			}
			if _, ok := tags[tag]; !ok {
				return fmt.Errorf("tag %s references path %s lacking it", tag, p)
			}
			if seen[p] == nil {
				seen[p] = make(map[string]struct{})
			}
			seen[p][tag] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for path, tags := range forward {
		for tag := range tags {
			if _, ok := seen[path][tag]; !ok {
				slog.Debug("consistency check failed", "path", path, "tag", tag)
				return fmt.Errorf("path %s holds tag %s missing from reverse index", path, tag)
			}
		}
	}
	return nil
}
