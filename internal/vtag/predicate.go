package vtag

import "time"

// Kind identifies the metadata family a predicate tests. The set is closed;
// parser and evaluator switch over it exhaustively.
type Kind int

const (
	KindModified Kind = iota
	KindCreated
	KindAccessed
	KindSize
	KindExt
	KindExtType
	KindDir
	KindPath
	KindDepth
	KindPerm
	KindLines
	KindGit
)

// Predicate is one parsed virtual tag. Only the condition matching Kind is
// populated.
type Predicate struct {
	Kind Kind
	// Expr is the original family:value text, kept for logs and warnings.
	Expr string

	Time  TimeCond  // modified, created, accessed
	Size  SizeCond  // size
	Range RangeCond // depth, lines
	// Value holds the literal for ext, ext-type, dir, perm and git.
	Value string
	// Glob holds the validated pattern for path.
	Glob string
}

type timeOp int

const (
	timeToday timeOp = iota
	timeYesterday
	timeThisWeek
	timeThisMonth
	timeThisYear
	timeLastN
	timeAfter
	timeBefore
	timeBetween
)

// TimeCond tests a file timestamp. Window applies to timeLastN; Start and
// End bound timeAfter, timeBefore and the half-open timeBetween interval.
type TimeCond struct {
	Op     timeOp
	Window time.Duration
	Start  time.Time
	End    time.Time
}

type sizeOp int

const (
	sizeEmpty sizeOp = iota
	sizeCategory
	sizeGreater
	sizeLess
	sizeEquals
	sizeRange
)

type SizeCond struct {
	Op       sizeOp
	Category string // tiny, small, medium, large, huge
	Min      uint64
	Max      uint64
}

type rangeOp int

const (
	rangeEquals rangeOp = iota
	rangeGreater
	rangeLess
	rangeBetween
)

// RangeCond tests an unsigned count (directory depth, line count).
type RangeCond struct {
	Op  rangeOp
	Min uint64
	Max uint64
}

func (c RangeCond) matches(value uint64) bool {
	switch c.Op {
	case rangeEquals:
		return value == c.Min
	case rangeGreater:
		return value > c.Min
	case rangeLess:
		return value < c.Min
	case rangeBetween:
		return value >= c.Min && value <= c.Max
	}
	return false
}
