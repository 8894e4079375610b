package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key represents a unique identifier for a cached API response.
// The same logical request always produces the same key.
type Key struct {
	// Method is the HTTP method (e.g., "GET")
	Method string

	// Path is the API endpoint path (e.g., "/repos/octocat/hello-world/issues")
	Path string

	// Query are the query parameters (e.g., {"state": "open"})
	Query url.Values
}

// String generates a deterministic cache key string.
// Format: gh:METHOD:path:query1=val1:query2=val2
//
// Example:
//
//	gh:GET:repos/octocat/hello-world/issues:state=open
func (k Key) String() string {
	parts := []string{"gh"}

	method := strings.ToUpper(k.Method)
	if method == "" {
		method = "GET"
	}
	parts = append(parts, method)

	// Normalize path
	path := strings.Trim(k.Path, "/")
	if path != "" {
		parts = append(parts, path)
	}

	// Add query params (sorted for determinism)
	if len(k.Query) > 0 {
		queryKeys := make([]string, 0, len(k.Query))
		for key := range k.Query {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.Query.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}

// KeyForPath returns the key for a plain GET request against path.
func KeyForPath(path string) Key {
	return Key{Method: "GET", Path: path}
}
