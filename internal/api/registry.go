package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Grouper is implemented by endpoints whose CLI command lives under a
// subcommand, e.g. "pdfmark api conversions get <id>".
type Grouper interface {
	Group() (use, short string)
}

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
}

// NewRegistry creates a new endpoint registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds endpoints to the registry.
func (r *Registry) Register(eps ...Endpoint) {
	r.endpoints = append(r.endpoints, eps...)
}

// RegisterRoutes registers all endpoint HTTP routes with the given mux.
// initMiddleware wraps handlers that require full server initialization.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, initMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if ep.RequiresInit() {
			handler = initMiddleware(handler)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

// BuildCommands returns a cobra.Command tree for all registered endpoints.
// getServerURL is called at runtime to get the server URL.
func (r *Registry) BuildCommands(getServerURL func() string) *cobra.Command {
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Commands that call the running server",
		Long: `API commands call the running pdfmark server via HTTP.

These commands require a running server (pdfmark serve).
Use --server to specify a custom server URL.

Examples:
  pdfmark api health                         # Check server health
  pdfmark api conversions submit book.pdf    # Start a conversion
  pdfmark api conversions get <id>           # Show conversion progress
  pdfmark api conversions result <id> -o out.md`,
	}

	groups := make(map[string]*cobra.Command)
	for _, ep := range r.endpoints {
		cmd := ep.Command(getServerURL)
		if cmd == nil {
			continue
		}
		g, ok := ep.(Grouper)
		if !ok {
			apiCmd.AddCommand(cmd)
			continue
		}
		use, short := g.Group()
		parent, ok := groups[use]
		if !ok {
			parent = &cobra.Command{Use: use, Short: short}
			groups[use] = parent
			apiCmd.AddCommand(parent)
		}
		parent.AddCommand(cmd)
	}

	return apiCmd
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}
