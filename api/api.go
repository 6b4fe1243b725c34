// Package api provides HTTP handlers for the Bastion permission engine.
package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/bastion"
)

// API wires all Bastion HTTP handlers together.
type API struct {
	eng      *bastion.Engine
	router   forge.Router
	basePath string
}

// New creates an API from an Engine and a Forge router. Routes are mounted
// under basePath, which may be empty.
func New(eng *bastion.Engine, router forge.Router, basePath string) *API {
	return &API{eng: eng, router: router, basePath: basePath}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	if err := a.RegisterRoutes(a.router); err != nil {
		panic("bastion: register routes: " + err.Error())
	}
	return a.router.Handler()
}

// RegisterRoutes registers all API routes into the given Forge router.
func (a *API) RegisterRoutes(router forge.Router) error {
	registerers := []func(forge.Router) error{
		a.registerEvaluateRoutes,
		a.registerRuleRoutes,
	}
	for _, fn := range registerers {
		if err := fn(router); err != nil {
			return err
		}
	}
	return nil
}

// prefix returns the mount point of every permission route.
func (a *API) prefix() string {
	return a.basePath + "/v1/permissions"
}
