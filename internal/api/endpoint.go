package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint defines both an HTTP route and its corresponding CLI command.
type Endpoint interface {
	// Route returns the HTTP method, path, and handler for this endpoint.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit returns true if the route needs the state store and
	// orchestrator to be up.
	RequiresInit() bool

	// Command returns a Cobra command that calls this endpoint via HTTP, or
	// nil for routes with no CLI counterpart.
	// getServerURL is called at runtime to get the server URL.
	Command(getServerURL func() string) *cobra.Command
}
