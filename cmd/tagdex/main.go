package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"tagdex/internal/config"
	"tagdex/internal/index"
	"tagdex/internal/schema"
	"tagdex/internal/search"
	"tagdex/internal/store"
	"tagdex/internal/vtag"
)

func main() {
	level := parseLogLevel(os.Getenv("TAGDEX_DEBUG_LEVEL"))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := config.Load()
	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	if err := run(context.Background(), cfg, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: tagdex <command> [args]

commands:
  tag <path> <tag>...      add tags to a file
  untag <path> <tag>...    remove tags from a file
  rm <path>                remove a file from the index
  ls [path]                list tracked files, or the tags of one file
  tags                     list all tags
  search [flags]           query the index (see search -h)
  alias add <alias> <tag>  define a synonym
  alias rm <alias>         remove a synonym
  alias ls                 list synonyms
  vtag-check <expr> <path> evaluate one virtual tag against a file
  check                    verify index consistency`)
}

func parseLogLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, cfg config.Config, args []string) error {
	switch args[0] {
	case "tag", "untag", "rm", "ls", "tags", "search", "check":
		return runIndexCommand(ctx, cfg, args)
	case "alias":
		return runAlias(cfg, args[1:])
	case "vtag-check":
		return runVTagCheck(ctx, cfg, args[1:])
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func openIndex(ctx context.Context, cfg config.Config) (*index.Index, *store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, nil, err
	}
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	idx, err := index.Open(ctx, s, index.Options{KeepUntagged: cfg.KeepUntagged})
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return idx, s, nil
}

func runIndexCommand(ctx context.Context, cfg config.Config, args []string) error {
	idx, s, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	switch args[0] {
	case "tag":
		if len(args) < 3 {
			return fmt.Errorf("usage: tagdex tag <path> <tag>...")
		}
		tags, err := canonicalTags(cfg, args[2:])
		if err != nil {
			return err
		}
		return idx.AddTags(ctx, args[1], tags)

	case "untag":
		if len(args) < 3 {
			return fmt.Errorf("usage: tagdex untag <path> <tag>...")
		}
		tags, err := canonicalTags(cfg, args[2:])
		if err != nil {
			return err
		}
		return idx.RemoveTags(ctx, args[1], tags)

	case "rm":
		if len(args) != 2 {
			return fmt.Errorf("usage: tagdex rm <path>")
		}
		existed, err := idx.Remove(ctx, args[1])
		if err != nil {
			return err
		}
		if !existed {
			fmt.Fprintf(os.Stderr, "%s was not tracked\n", args[1])
		}
		return nil

	case "ls":
		if len(args) == 2 {
			tags, found, err := idx.Tags(ctx, args[1])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%s is not tracked", args[1])
			}
			for _, t := range tags {
				fmt.Println(t)
			}
			return nil
		}
		files, err := idx.ListFiles(ctx)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return nil

	case "tags":
		tags, err := idx.ListTags(ctx)
		if err != nil {
			return err
		}
		for _, t := range tags {
			fmt.Println(t)
		}
		return nil

	case "search":
		return runSearch(ctx, cfg, idx, args[1:])

	case "check":
		if err := idx.CheckConsistency(ctx); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	}
	return nil
}

// canonicalTags resolves aliases so the index only ever stores canonical
// forms.
func canonicalTags(cfg config.Config, tags []string) ([]string, error) {
	sch, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = sch.Canonicalize(t)
	}
	return out, nil
}

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func runSearch(ctx context.Context, cfg config.Config, idx *index.Index, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	var tags, excludes, patterns, vtags multiFlag
	fs.Var(&tags, "t", "tag to match (repeatable)")
	fs.Var(&excludes, "x", "tag to exclude (repeatable)")
	fs.Var(&patterns, "p", "file pattern (repeatable)")
	fs.Var(&vtags, "v", "virtual tag, family:value (repeatable)")
	anyTags := fs.Bool("any", false, "match any tag instead of all")
	anyPatterns := fs.Bool("any-pattern", false, "match any file pattern instead of all")
	anyVTags := fs.Bool("any-vtag", false, "match any virtual tag instead of all")
	regex := fs.Bool("regex", false, "treat file patterns as regular expressions")
	regexTags := fs.Bool("regex-tag", false, "treat tags as regular expressions over stored tags")
	noHierarchy := fs.Bool("no-hierarchy", false, "disable hierarchy expansion")
	noAliases := fs.Bool("no-aliases", false, "disable alias expansion")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sch, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return err
	}
	vcfg, err := vtag.LoadConfig(cfg.VTagConfig)
	if err != nil {
		return err
	}
	if cfg.CacheTTL > 0 {
		vcfg.CacheTTL = cfg.CacheTTL
	}
	if cfg.Workers > 0 {
		vcfg.Workers = cfg.Workers
	}

	criteria := search.Criteria{
		Tags:         tags,
		ExcludeTags:  excludes,
		FilePatterns: patterns,
		VirtualTags:  vtags,
		NoHierarchy:  *noHierarchy,
		NoAliases:    *noAliases,
	}
	if *anyTags {
		criteria.TagMode = search.ModeAny
	}
	if *anyPatterns {
		criteria.FileMode = search.ModeAny
	}
	if *anyVTags {
		criteria.VirtualMode = search.ModeAny
	}
	if *regex {
		criteria.PatternType = search.PatternRegex
	}
	criteria.TagRegex = *regexTags

	engine := search.NewEngine(idx, sch, vtag.NewEvaluator(vcfg))
	result, err := engine.Search(ctx, criteria)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s: %v\n", w.Path, w.Expr, w.Err)
	}
	for _, f := range result.Files {
		fmt.Println(f)
	}
	return nil
}

func runAlias(cfg config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: tagdex alias add|rm|ls")
	}
	sch, err := schema.Load(cfg.SchemaPath)
	if err != nil {
		return err
	}

	switch args[0] {
	case "add":
		if len(args) != 3 {
			return fmt.Errorf("usage: tagdex alias add <alias> <tag>")
		}
		if err := sch.AddAlias(args[1], args[2]); err != nil {
			return err
		}
		return schema.Save(cfg.SchemaPath, sch)

	case "rm":
		if len(args) != 2 {
			return fmt.Errorf("usage: tagdex alias rm <alias>")
		}
		if err := sch.RemoveAlias(args[1]); err != nil {
			return err
		}
		return schema.Save(cfg.SchemaPath, sch)

	case "ls":
		for _, a := range sch.Aliases() {
			fmt.Printf("%s -> %s\n", a.Name, a.Canonical)
		}
		return nil
	}
	return fmt.Errorf("unknown alias command %q", args[0])
}

func runVTagCheck(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: tagdex vtag-check <family:value> <path>")
	}
	p, err := vtag.Parse(args[0])
	if err != nil {
		return err
	}
	vcfg, err := vtag.LoadConfig(cfg.VTagConfig)
	if err != nil {
		return err
	}
	ok, err := vtag.NewEvaluator(vcfg).Matches(ctx, args[1], p)
	if err != nil {
		return err
	}
	fmt.Println(ok)
	return nil
}
