package world

// Plan bounds what a tenant may store
type Plan struct {
	Name string
	// MaxQuadsPerWorld caps the size of one world; zero means unlimited
	MaxQuadsPerWorld int
}

// Plans maps plan names to plans
type Plans map[string]Plan

// DefaultPlans match the built-in rate limit policies
func DefaultPlans() Plans {
	return Plans{
		"free":       {Name: "free", MaxQuadsPerWorld: 10_000},
		"pro":        {Name: "pro", MaxQuadsPerWorld: 1_000_000},
		"enterprise": {Name: "enterprise"},
	}
}

// Lookup returns the named plan; unknown names get the free plan
func (p Plans) Lookup(name string) Plan {
	if plan, ok := p[name]; ok {
		return plan
	}
	return p["free"]
}
