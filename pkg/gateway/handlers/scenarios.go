package handlers

import (
	"net/http"

	"github.com/vango-go/callsim/pkg/core/scenario"
)

// ScenariosHandler lists the scenario catalog.
type ScenariosHandler struct {
	Catalog *scenario.Catalog
}

func (h ScenariosHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	list := []scenario.Scenario{}
	if h.Catalog != nil {
		list = h.Catalog.All()
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": list})
}
