// Package httpapi implements the coordinator's HTTP surface (C7): a small
// service registry generalized from the teacher's srvreg.ServiceRegistry
// (exact-match routes take priority, :param segments pattern-match
// everything else) wired to net/http directly instead of the teacher's
// request/response value-struct indirection, since this surface serves
// real clients rather than replaying consensus transactions.
package httpapi

import (
	"net/http"
	"strings"
	"sync"
)

// RouteKey uniquely identifies one registered route.
type RouteKey struct {
	Method string
	Path   string
}

// Handler is the registry's handler shape: context carries path params
// extracted from a pattern match.
type Handler func(w http.ResponseWriter, r *http.Request, params map[string]string)

// ServiceRegistry dispatches requests by method+path, exact matches first,
// then :param pattern matches, mirroring the teacher's two-phase lookup.
type ServiceRegistry struct {
	mu          sync.RWMutex
	handlers    map[RouteKey]Handler
	exactRoutes map[RouteKey]bool
}

// NewServiceRegistry builds an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		handlers:    make(map[RouteKey]Handler),
		exactRoutes: make(map[RouteKey]bool),
	}
}

// Register adds a route. isExact true means only a literal match counts;
// false allows :param segments in path to match any single path segment.
func (sr *ServiceRegistry) Register(method, path string, isExact bool, h Handler) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	sr.handlers[key] = h
	sr.exactRoutes[key] = isExact
}

// resolve finds the handler for method+path and extracts any :param values.
func (sr *ServiceRegistry) resolve(method, path string) (Handler, map[string]string, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	exactKey := RouteKey{Method: strings.ToUpper(method), Path: path}
	if h, ok := sr.handlers[exactKey]; ok && sr.exactRoutes[exactKey] {
		return h, nil, true
	}

	for key, h := range sr.handlers {
		if key.Method != strings.ToUpper(method) || sr.exactRoutes[key] {
			continue
		}
		if params, matched := matchPath(key.Path, path); matched {
			return h, params, true
		}
	}
	return nil, nil, false
}

// matchPath compares a registered pattern (segments may start with ":") to
// an actual request path, returning the :param bindings on success.
func matchPath(pattern, path string) (map[string]string, bool) {
	patternParts := strings.Split(strings.Trim(pattern, "/"), "/")
	pathParts := strings.Split(strings.Trim(path, "/"), "/")
	if len(patternParts) != len(pathParts) {
		return nil, false
	}
	params := make(map[string]string)
	for i := range patternParts {
		if strings.HasPrefix(patternParts[i], ":") {
			params[strings.TrimPrefix(patternParts[i], ":")] = pathParts[i]
			continue
		}
		if patternParts[i] != pathParts[i] {
			return nil, false
		}
	}
	return params, true
}

// ServeHTTP implements http.Handler, so the registry can be handed straight
// to http.Server or wrapped with middleware like rs/cors.
func (sr *ServiceRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handler, params, found := sr.resolve(r.Method, r.URL.Path)
	if !found {
		writeError(w, http.StatusNotFound, "NotFound", "no route for "+r.Method+" "+r.URL.Path, nil)
		return
	}
	handler(w, r, params)
}
