package vtag

import (
	"bufio"
	"io"
	"io/fs"
	"os"
	"syscall"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// fileMeta is one cached stat result.
type fileMeta struct {
	size     uint64
	mode     fs.FileMode
	regular  bool
	modified time.Time
	accessed time.Time
	// changed is the inode change time; it stands in for creation time,
	// which Linux does not expose through stat.
	changed time.Time
}

// metaCache holds the three evaluator caches. Entries expire a fixed TTL
// after being filled; hits must not extend the lifetime, or hot files would
// never pick up fresh metadata. The caches are capacity-bounded and safe for
// concurrent use.
type metaCache struct {
	stat  *ttlcache.Cache[string, fileMeta]
	lines *ttlcache.Cache[string, uint64]
	git   *ttlcache.Cache[string, gitInfo]
}

func newMetaCache(cfg Config) *metaCache {
	return &metaCache{
		stat: ttlcache.New(
			ttlcache.WithTTL[string, fileMeta](cfg.CacheTTL),
			ttlcache.WithCapacity[string, fileMeta](cfg.CacheCapacity),
			ttlcache.WithDisableTouchOnHit[string, fileMeta](),
		),
		lines: ttlcache.New(
			ttlcache.WithTTL[string, uint64](cfg.CacheTTL),
			ttlcache.WithCapacity[string, uint64](cfg.CacheCapacity),
			ttlcache.WithDisableTouchOnHit[string, uint64](),
		),
		git: ttlcache.New(
			ttlcache.WithTTL[string, gitInfo](cfg.CacheTTL),
			ttlcache.WithCapacity[string, gitInfo](cfg.CacheCapacity),
			ttlcache.WithDisableTouchOnHit[string, gitInfo](),
		),
	}
}

func (c *metaCache) statFor(path string) (fileMeta, error) {
	if item := c.stat.Get(path); item != nil {
		return item.Value(), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fileMeta{}, err
	}
	meta := fileMeta{
		size:     uint64(info.Size()),
		mode:     info.Mode(),
		regular:  info.Mode().IsRegular(),
		modified: info.ModTime(),
		accessed: info.ModTime(),
		changed:  info.ModTime(),
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		meta.accessed = time.Unix(st.Atim.Sec, st.Atim.Nsec)
		meta.changed = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	}
	c.stat.Set(path, meta, ttlcache.DefaultTTL)
	return meta, nil
}

func (c *metaCache) linesFor(path string) (uint64, error) {
	if item := c.lines.Get(path); item != nil {
		return item.Value(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := countLines(f)
	if err != nil {
		return 0, err
	}
	c.lines.Set(path, n, ttlcache.DefaultTTL)
	return n, nil
}

// countLines counts newline-terminated lines plus a trailing unterminated one.
func countLines(r io.Reader) (uint64, error) {
	br := bufio.NewReader(r)
	var count uint64
	trailing := false
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			if chunk[len(chunk)-1] == '\n' {
				count++
				trailing = false
			} else {
				trailing = true
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil && err != bufio.ErrBufferFull {
			return 0, err
		}
	}
	if trailing {
		count++
	}
	return count, nil
}
