package ratelimit

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/tidwall/gjson"
)

// ResourceType names the kind of work a bucket gates
type ResourceType string

const (
	ResourceSparqlQuery  ResourceType = "sparql_query"
	ResourceSparqlUpdate ResourceType = "sparql_update"
	ResourceSearch       ResourceType = "search"
	ResourceBlobRead     ResourceType = "blob_read"
	ResourceBlobWrite    ResourceType = "blob_write"
)

// ResourceTypes lists every resource type in a stable order
var ResourceTypes = []ResourceType{
	ResourceSparqlQuery,
	ResourceSparqlUpdate,
	ResourceSearch,
	ResourceBlobRead,
	ResourceBlobWrite,
}

// Policy shapes a bucket: it holds at most Capacity tokens and regains
// RefillRate tokens every IntervalMs milliseconds, continuously
type Policy struct {
	Capacity   int   `json:"capacity"`
	RefillRate int   `json:"refillRate"`
	IntervalMs int64 `json:"intervalMs"`
}

// Validate rejects policies that could never refill
func (p Policy) Validate() error {
	if p.Capacity <= 0 || p.RefillRate <= 0 || p.IntervalMs <= 0 {
		return fmt.Errorf("invalid rate limit policy %+v: capacity, refill rate and interval must be positive", p)
	}
	return nil
}

// durationFor is how long the bucket needs to regain tokens, rounded up to
// the millisecond
func (p Policy) durationFor(tokens float64) time.Duration {
	if tokens <= 0 {
		return 0
	}
	ms := math.Ceil(tokens / float64(p.RefillRate) * float64(p.IntervalMs))
	return time.Duration(ms) * time.Millisecond
}

// Policies maps a plan and a resource type to a policy
type Policies map[string]map[ResourceType]Policy

// Lookup returns the policy of plan for resource
func (ps Policies) Lookup(plan string, resource ResourceType) (Policy, bool) {
	p, ok := ps[plan][resource]
	return p, ok
}

const minute = int64(60_000)

// DefaultPolicies are the built-in plans
func DefaultPolicies() Policies {
	return Policies{
		"free": {
			ResourceSparqlQuery:  {Capacity: 60, RefillRate: 60, IntervalMs: minute},
			ResourceSparqlUpdate: {Capacity: 30, RefillRate: 30, IntervalMs: minute},
			ResourceSearch:       {Capacity: 60, RefillRate: 60, IntervalMs: minute},
			ResourceBlobRead:     {Capacity: 30, RefillRate: 30, IntervalMs: minute},
			ResourceBlobWrite:    {Capacity: 10, RefillRate: 10, IntervalMs: minute},
		},
		"pro": {
			ResourceSparqlQuery:  {Capacity: 600, RefillRate: 600, IntervalMs: minute},
			ResourceSparqlUpdate: {Capacity: 300, RefillRate: 300, IntervalMs: minute},
			ResourceSearch:       {Capacity: 600, RefillRate: 600, IntervalMs: minute},
			ResourceBlobRead:     {Capacity: 300, RefillRate: 300, IntervalMs: minute},
			ResourceBlobWrite:    {Capacity: 100, RefillRate: 100, IntervalMs: minute},
		},
		"enterprise": {
			ResourceSparqlQuery:  {Capacity: 6000, RefillRate: 6000, IntervalMs: minute},
			ResourceSparqlUpdate: {Capacity: 3000, RefillRate: 3000, IntervalMs: minute},
			ResourceSearch:       {Capacity: 6000, RefillRate: 6000, IntervalMs: minute},
			ResourceBlobRead:     {Capacity: 3000, RefillRate: 3000, IntervalMs: minute},
			ResourceBlobWrite:    {Capacity: 1000, RefillRate: 1000, IntervalMs: minute},
		},
	}
}

// LoadPolicies reads a JSON policy file and overlays it on the defaults:
//
//	{"free": {"sparql_update": {"capacity": 3, "refillRate": 3, "intervalMs": 60000}}}
//
// Plans and resource types absent from the file keep their defaults.
func LoadPolicies(path string) (Policies, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicies(data)
}

// ParsePolicies is LoadPolicies over file contents
func ParsePolicies(data []byte) (Policies, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("policy file is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("policy file must be a JSON object of plans")
	}

	policies := DefaultPolicies()
	var err error
	root.ForEach(func(plan, resources gjson.Result) bool {
		if !resources.IsObject() {
			err = fmt.Errorf("plan %q: expected an object of resource types", plan.String())
			return false
		}
		if policies[plan.String()] == nil {
			policies[plan.String()] = make(map[ResourceType]Policy)
		}
		resources.ForEach(func(resource, policy gjson.Result) bool {
			p := Policy{
				Capacity:   int(policy.Get("capacity").Int()),
				RefillRate: int(policy.Get("refillRate").Int()),
				IntervalMs: policy.Get("intervalMs").Int(),
			}
			if verr := p.Validate(); verr != nil {
				err = fmt.Errorf("plan %q resource %q: %w", plan.String(), resource.String(), verr)
				return false
			}
			policies[plan.String()][ResourceType(resource.String())] = p
			return true
		})
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return policies, nil
}
