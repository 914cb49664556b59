// Package usage records what tenants did to their worlds. Usage is
// observational: a failing meter never fails the operation it describes.
package usage

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Kind names a metered operation
type Kind string

const (
	KindQuery  Kind = "sparql_query"
	KindUpdate Kind = "sparql_update"
	KindSearch Kind = "search"
	KindImport Kind = "import"
	KindExport Kind = "export"
)

// Event is one metered operation. Units is operation specific: result
// rows, quads changed, hits or blob bytes.
type Event struct {
	TenantID string
	WorldID  string
	Kind     Kind
	Units    int64
	At       time.Time
}

// Summary aggregates the events of one tenant, world and kind
type Summary struct {
	TenantID string `json:"tenantId"`
	WorldID  string `json:"worldId"`
	Kind     Kind   `json:"kind"`
	Count    int64  `json:"count"`
	Units    int64  `json:"units"`
}

// Meter records usage events
type Meter interface {
	Record(ctx context.Context, e Event) error
}

// Reporter summarizes recorded usage of a tenant since a point in time
type Reporter interface {
	Summarize(ctx context.Context, tenantID string, since time.Time) ([]Summary, error)
}

// Nop discards every event
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

func (Nop) Summarize(context.Context, string, time.Time) ([]Summary, error) { return nil, nil }

func sortSummaries(s []Summary) {
	slices.SortFunc(s, func(a, b Summary) int {
		if c := strings.Compare(a.WorldID, b.WorldID); c != 0 {
			return c
		}
		return strings.Compare(string(a.Kind), string(b.Kind))
	})
}
