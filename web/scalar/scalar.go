// Package scalar serves the Scalar API reference UI for the OpenAPI document.
package scalar

import (
	"embed"
	"net/http"

	"github.com/JaimeStill/ktru/pkg/module"
	"github.com/JaimeStill/ktru/pkg/web"
)

//go:embed index.html
var staticFS embed.FS

// NewModule creates a module that serves the Scalar API reference UI at basePath,
// rendering the OpenAPI document found at specURL. Unknown paths under
// basePath redirect to the reference page.
func NewModule(basePath, specURL string) (*module.Module, error) {
	page, err := web.NewPage(staticFS, "index.html")
	if err != nil {
		return nil, err
	}

	router := web.NewRouter()
	router.HandleFunc("GET /{$}", page.Handler(map[string]string{"SpecURL": specURL}))
	router.SetFallback(http.RedirectHandler(basePath, http.StatusFound))

	return module.New(basePath, router), nil
}
