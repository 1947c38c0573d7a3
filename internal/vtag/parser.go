package vtag

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
)

// ParseError reports a virtual tag that could not be parsed, naming the
// expected form.
type ParseError struct {
	Expr   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid virtual tag %q: %s", e.Expr, e.Reason)
}

const dateLayout = "2006-01-02"

// Parse turns a family:value expression into a Predicate. Unknown families
// and malformed values yield a *ParseError.
func Parse(expr string) (Predicate, error) {
	family, value, ok := strings.Cut(expr, ":")
	if !ok {
		return Predicate{}, &ParseError{expr, "expected family:value"}
	}

	p := Predicate{Expr: expr}
	var err error
	switch family {
	case "modified":
		p.Kind = KindModified
		p.Time, err = parseTime(expr, value)
	case "created":
		p.Kind = KindCreated
		p.Time, err = parseTime(expr, value)
	case "accessed":
		p.Kind = KindAccessed
		p.Time, err = parseTime(expr, value)
	case "size":
		p.Kind = KindSize
		p.Size, err = parseSize(expr, value)
	case "ext":
		p.Kind = KindExt
		p.Value = "." + strings.TrimPrefix(value, ".")
	case "ext-type":
		p.Kind = KindExtType
		switch value {
		case "source", "document", "image", "archive", "config":
			p.Value = value
		default:
			err = &ParseError{expr, "expected ext-type:source|document|image|archive|config"}
		}
	case "dir":
		p.Kind = KindDir
		p.Value = strings.TrimSuffix(value, "/")
	case "path":
		p.Kind = KindPath
		if !doublestar.ValidatePattern(value) {
			err = &ParseError{expr, "expected path:<glob pattern>"}
		}
		p.Glob = value
	case "depth":
		p.Kind = KindDepth
		p.Range, err = parseRange(expr, value)
	case "perm":
		p.Kind = KindPerm
		switch value {
		case "executable", "readable", "writable", "readonly":
			p.Value = value
		default:
			err = &ParseError{expr, "expected perm:executable|readable|writable|readonly"}
		}
	case "lines":
		p.Kind = KindLines
		p.Range, err = parseRange(expr, value)
	case "git":
		p.Kind = KindGit
		switch value {
		case "tracked", "untracked", "modified", "staged", "ignored",
			"committed-today", "never-committed", "stale":
			p.Value = value
		default:
			err = &ParseError{expr, "expected git:tracked|untracked|modified|staged|ignored|committed-today|never-committed|stale"}
		}
	default:
		return Predicate{}, &ParseError{expr, fmt.Sprintf("unknown family %q", family)}
	}
	if err != nil {
		return Predicate{}, err
	}
	return p, nil
}

func parseTime(expr, value string) (TimeCond, error) {
	switch value {
	case "today":
		return TimeCond{Op: timeToday}, nil
	case "yesterday":
		return TimeCond{Op: timeYesterday}, nil
	case "this-week":
		return TimeCond{Op: timeThisWeek}, nil
	case "this-month":
		return TimeCond{Op: timeThisMonth}, nil
	case "this-year":
		return TimeCond{Op: timeThisYear}, nil
	}

	if n, ok := cutWindow(value, "-days"); ok {
		return TimeCond{Op: timeLastN, Window: time.Duration(n) * 24 * time.Hour}, nil
	}
	if n, ok := cutWindow(value, "-hours"); ok {
		return TimeCond{Op: timeLastN, Window: time.Duration(n) * time.Hour}, nil
	}

	if rest, ok := strings.CutPrefix(value, "after-"); ok {
		date, err := parseDate(expr, rest)
		if err != nil {
			return TimeCond{}, err
		}
		return TimeCond{Op: timeAfter, Start: date}, nil
	}
	if rest, ok := strings.CutPrefix(value, "before-"); ok {
		date, err := parseDate(expr, rest)
		if err != nil {
			return TimeCond{}, err
		}
		return TimeCond{Op: timeBefore, Start: date}, nil
	}
	if rest, ok := strings.CutPrefix(value, "between-"); ok {
		parts := strings.Split(rest, "-")
		if len(parts) != 6 {
			return TimeCond{}, &ParseError{expr, "expected between-YYYY-MM-DD-YYYY-MM-DD"}
		}
		start, err := parseDate(expr, strings.Join(parts[:3], "-"))
		if err != nil {
			return TimeCond{}, err
		}
		end, err := parseDate(expr, strings.Join(parts[3:], "-"))
		if err != nil {
			return TimeCond{}, err
		}
		return TimeCond{Op: timeBetween, Start: start, End: end}, nil
	}

	// A bare date means that whole day.
	date, err := parseDate(expr, value)
	if err != nil {
		return TimeCond{}, err
	}
	return TimeCond{Op: timeBetween, Start: date, End: date.AddDate(0, 0, 1)}, nil
}

// cutWindow parses a last-N-days / last-N-hours value, returning N.
func cutWindow(value, suffix string) (uint64, bool) {
	rest, ok := strings.CutPrefix(value, "last-")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, suffix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseDate(expr, value string) (time.Time, error) {
	date, err := time.ParseInLocation(dateLayout, value, time.Local)
	if err != nil {
		return time.Time{}, &ParseError{expr, fmt.Sprintf("bad date %q, expected YYYY-MM-DD", value)}
	}
	return date, nil
}

func parseSize(expr, value string) (SizeCond, error) {
	switch value {
	case "empty":
		return SizeCond{Op: sizeEmpty}, nil
	case "tiny", "small", "medium", "large", "huge":
		return SizeCond{Op: sizeCategory, Category: value}, nil
	}

	parseBytes := func(s string) (uint64, error) {
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return 0, &ParseError{expr, fmt.Sprintf("bad size %q", s)}
		}
		return n, nil
	}

	switch {
	case strings.HasPrefix(value, ">"):
		n, err := parseBytes(value[1:])
		if err != nil {
			return SizeCond{}, err
		}
		return SizeCond{Op: sizeGreater, Min: n}, nil
	case strings.HasPrefix(value, "<"):
		n, err := parseBytes(value[1:])
		if err != nil {
			return SizeCond{}, err
		}
		return SizeCond{Op: sizeLess, Min: n}, nil
	case strings.HasPrefix(value, "="):
		n, err := parseBytes(value[1:])
		if err != nil {
			return SizeCond{}, err
		}
		return SizeCond{Op: sizeEquals, Min: n}, nil
	case strings.Contains(value, "-"):
		lo, hi, _ := strings.Cut(value, "-")
		min, err := parseBytes(lo)
		if err != nil {
			return SizeCond{}, err
		}
		max, err := parseBytes(hi)
		if err != nil {
			return SizeCond{}, err
		}
		return SizeCond{Op: sizeRange, Min: min, Max: max}, nil
	}
	return SizeCond{}, &ParseError{expr, "expected size:empty|tiny|small|medium|large|huge|>N|<N|=N|MIN-MAX"}
}

func parseRange(expr, value string) (RangeCond, error) {
	bad := &ParseError{expr, "expected N, >N, <N or MIN-MAX"}
	switch {
	case strings.HasPrefix(value, ">"):
		n, err := strconv.ParseUint(value[1:], 10, 64)
		if err != nil {
			return RangeCond{}, bad
		}
		return RangeCond{Op: rangeGreater, Min: n}, nil
	case strings.HasPrefix(value, "<"):
		n, err := strconv.ParseUint(value[1:], 10, 64)
		if err != nil {
			return RangeCond{}, bad
		}
		return RangeCond{Op: rangeLess, Min: n}, nil
	case strings.Contains(value, "-"):
		lo, hi, _ := strings.Cut(value, "-")
		min, err := strconv.ParseUint(lo, 10, 64)
		if err != nil {
			return RangeCond{}, bad
		}
		max, err := strconv.ParseUint(hi, 10, 64)
		if err != nil {
			return RangeCond{}, bad
		}
		return RangeCond{Op: rangeBetween, Min: min, Max: max}, nil
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return RangeCond{}, bad
	}
	return RangeCond{Op: rangeEquals, Min: n}, nil
}
