// Package routes declares HTTP endpoints as nested prefix groups.
package routes

import "net/http"

// Group organizes routes under a common prefix. Children inherit the
// accumulated prefix.
type Group struct {
	Prefix   string
	Routes   []Route
	Children []Group
}

// Register adds all routes from the given groups to the mux.
func Register(mux *http.ServeMux, groups ...Group) {
	Walk(func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(method+" "+path, h)
	}, groups...)
}

// Walk calls fn for every route with its fully prefixed path, parents first.
func Walk(fn func(method, path string, h http.HandlerFunc), groups ...Group) {
	for _, g := range groups {
		g.walk("", fn)
	}
}

// Patterns returns the "METHOD /path" pattern of every route in groups.
func Patterns(groups ...Group) []string {
	var out []string
	Walk(func(method, path string, _ http.HandlerFunc) {
		out = append(out, method+" "+path)
	}, groups...)
	return out
}

func (g Group) walk(parent string, fn func(method, path string, h http.HandlerFunc)) {
	prefix := parent + g.Prefix
	for _, r := range g.Routes {
		fn(r.Method, prefix+r.Pattern, r.Handler)
	}
	for _, child := range g.Children {
		child.walk(prefix, fn)
	}
}
