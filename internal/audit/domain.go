// Package audit provides the durable, ordered, append-only log of
// authorization decisions and administrative mutations.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable audit record. Seq is assigned at append time and
// is strictly increasing across the log.
type Entry struct {
	Seq              int64
	At               time.Time
	ActorPrincipal   string
	Action           string
	Resource         string
	Decision         string
	Reason           string
	MatchedPolicyIDs []uuid.UUID
	SourceIP         string
}

// Filters narrows a log query. Zero values mean "no filter".
type Filters struct {
	Principal string
	Action    string
	Resource  string
	Decision  string
	From      time.Time
	To        time.Time
	AfterSeq  int64
	Limit     int
}

// Page wraps one query result window, ordered by sequence ascending.
type Page struct {
	Entries      []Entry
	NextAfterSeq int64
	HasNext      bool
}
