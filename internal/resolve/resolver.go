// Package resolve maps logical capabilities to concrete remote operation
// names and executes report requests with a bounded refinement budget.
// Deployments expose differently-prefixed or differently-cased operation
// names, so each capability carries an ordered candidate list tried until
// one sticks.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"metriclens/internal/logging"
	"metriclens/internal/mcp"
)

// ErrAllCandidatesFailed means every operation-name guess for a capability
// was rejected by the tool. Wraps the last rejection.
var ErrAllCandidatesFailed = errors.New("no operation candidate succeeded")

// Capability is one logical thing the remote tool can do, with the keyword
// pattern used to rank live catalog entries and the static candidate list
// used when the catalog is unreachable.
type Capability struct {
	Name     string
	keywords []string
	static   []string
}

var (
	// CapRunReport runs one analytics report query.
	CapRunReport = Capability{
		Name:     "run report",
		keywords: []string{"runreport", "report"},
		static: []string{
			"run_report",
			"runReport",
			"run-report",
			"google_analytics_run_report",
			"query_analytics",
		},
	}

	// CapListAccounts lists the account/property summaries visible to the
	// connected credentials.
	CapListAccounts = Capability{
		Name:     "list accounts",
		keywords: []string{"accountsummaries", "accounts"},
		static: []string{
			"list_account_summaries",
			"list_accounts",
			"listAccounts",
			"account_summaries",
		},
	}

	// CapCustomDimensions fetches the custom dimensions registered on a
	// property.
	CapCustomDimensions = Capability{
		Name:     "get custom dimensions",
		keywords: []string{"customdimensions"},
		static: []string{
			"get_custom_dimensions",
			"list_custom_dimensions",
			"getCustomDimensions",
		},
	}
)

// Invoker is the slice of the connector the resolver needs.
type Invoker interface {
	ListOperations(ctx context.Context) []string
	Invoke(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// Resolver tries capability candidates in priority order, caching the
// ranked list per capability once the live catalog has been seen.
type Resolver struct {
	conn Invoker

	mu    sync.Mutex
	cache map[string][]string
}

// NewResolver builds a resolver over the shared tool connection.
func NewResolver(conn Invoker) *Resolver {
	return &Resolver{conn: conn, cache: make(map[string][]string)}
}

// Resolve invokes the capability, returning the result and the operation
// name that worked. Candidates are tried in order; an unknown-operation
// rejection moves to the next name, any other failure surfaces immediately
// since a different name cannot fix it.
func (r *Resolver) Resolve(ctx context.Context, capability Capability, args map[string]any) (json.RawMessage, string, error) {
	log := logging.Get(logging.CategoryResolve)

	candidates := r.candidates(ctx, capability)
	var last error
	for _, name := range candidates {
		out, err := r.conn.Invoke(ctx, name, args)
		if err == nil {
			log.Debugf("capability %q resolved to operation %q", capability.Name, name)
			return out, name, nil
		}
		if errors.Is(err, mcp.ErrTransportUnavailable) {
			return nil, "", err
		}
		if !errors.Is(err, mcp.ErrOperationNotFound) {
			return nil, "", err
		}
		log.Debugf("operation %q not exposed, trying next candidate", name)
		last = err
	}

	if last == nil {
		last = mcp.ErrOperationNotFound
	}
	return nil, "", fmt.Errorf("%w for %q: %w", ErrAllCandidatesFailed, capability.Name, last)
}

// candidates returns the ordered name list for a capability. Catalog
// entries matching the capability's keywords rank ahead of the static
// list; the ranking is cached once a non-empty catalog has been observed.
func (r *Resolver) candidates(ctx context.Context, capability Capability) []string {
	r.mu.Lock()
	if cached, ok := r.cache[capability.Name]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	catalog := r.conn.ListOperations(ctx)
	if len(catalog) == 0 {
		return capability.static
	}

	ranked := rankCandidates(capability, catalog)
	r.mu.Lock()
	r.cache[capability.Name] = ranked
	r.mu.Unlock()
	return ranked
}

func rankCandidates(capability Capability, catalog []string) []string {
	seen := make(map[string]bool)
	var ranked []string

	for _, name := range catalog {
		if matchesKeywords(name, capability.keywords) && !seen[name] {
			seen[name] = true
			ranked = append(ranked, name)
		}
	}
	for _, name := range capability.static {
		if !seen[name] {
			seen[name] = true
			ranked = append(ranked, name)
		}
	}
	return ranked
}

// matchesKeywords compares case- and separator-insensitively, so
// "Google_Analytics.runReport" matches the "runreport" keyword.
func matchesKeywords(name string, keywords []string) bool {
	norm := strings.ToLower(name)
	norm = strings.NewReplacer("_", "", "-", "", ".", "").Replace(norm)
	for _, kw := range keywords {
		if strings.Contains(norm, kw) {
			return true
		}
	}
	return false
}
