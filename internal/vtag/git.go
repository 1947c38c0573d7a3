package vtag

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// gitInfo is the cached per-file view of the surrounding repository.
type gitInfo struct {
	inRepo bool
	// code is the two-letter porcelain status, empty for a clean tracked
	// file.
	code       string
	committed  bool
	lastCommit time.Time
}

func (e *Evaluator) gitFor(ctx context.Context, path string) (gitInfo, error) {
	if item := e.cache.git.Get(path); item != nil {
		return item.Value(), nil
	}
	info, err := probeGit(ctx, path)
	if err != nil {
		return gitInfo{}, err
	}
	e.cache.git.Set(path, info, ttlcache.DefaultTTL)
	return info, nil
}

func probeGit(ctx context.Context, path string) (gitInfo, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	out, err := runGit(ctx, dir, "status", "--porcelain", "--ignored", "--", base)
	if err != nil {
		if strings.Contains(err.Error(), "not a git repository") {
			return gitInfo{}, nil
		}
		return gitInfo{}, err
	}
	info := gitInfo{inRepo: true}
	if line, _, _ := strings.Cut(out, "\n"); len(line) >= 2 {
		info.code = line[:2]
	}

	out, err = runGit(ctx, dir, "log", "-1", "--format=%at", "--", base)
	if err != nil {
		return gitInfo{}, err
	}
	if s := strings.TrimSpace(out); s != "" {
		sec, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return gitInfo{}, fmt.Errorf("git log timestamp %q: %w", s, err)
		}
		info.committed = true
		info.lastCommit = time.Unix(sec, 0)
	}
	return info, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (e *Evaluator) gitMatches(info gitInfo, cond string) bool {
	if !info.inRepo {
		return false
	}
	untracked := info.code == "??"
	ignored := info.code == "!!"

	switch cond {
	case "tracked":
		return !untracked && !ignored && (info.committed || info.code != "")
	case "untracked":
		return untracked
	case "modified":
		return strings.ContainsRune(info.code, 'M')
	case "staged":
		return len(info.code) == 2 && info.code[0] != ' ' && info.code[0] != '?' && info.code[0] != '!'
	case "ignored":
		return ignored
	case "committed-today":
		return info.committed && !info.lastCommit.Before(startOfDay(time.Now()))
	case "never-committed":
		return !info.committed && !ignored
	case "stale":
		return info.committed && time.Since(info.lastCommit) > e.cfg.StaleAfter
	}
	return false
}
