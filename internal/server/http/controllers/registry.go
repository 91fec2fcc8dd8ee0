package controllers

import (
	"net/http"

	"github.com/runbeam/runbeam/internal/runtime"
	runsvc "github.com/runbeam/runbeam/internal/services/runs"
	logpkg "github.com/runbeam/runbeam/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general *GeneralController
	runs    *RunsController
}

// NewControllerRegistry initializes all controllers with the provided runtime
// and service.
func NewControllerRegistry(rt *runtime.Runtime, svc *runsvc.Service, logger logpkg.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(rt),
		runs:    NewRunsController(rt, svc, logger),
	}
}

// RegisterAllRoutes registers every controller's routes with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.runs.RegisterRoutes(mux)
}
