package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"astrocredits/internal/gating"
	"astrocredits/internal/infra/geoip"
	"astrocredits/internal/store"
)

// App bundles the collaborators the handlers need.
type App struct {
	Logger zerolog.Logger
	Store  store.Store
	Rules  gating.Rules
	Geo    geoip.CountryResolver
	IPSalt string

	// locks serializes the load-decide-apply-save sequence per subject
	// within this process.
	locks *gating.KeyedMutex
}

func NewApp(logger zerolog.Logger, st store.Store, rules gating.Rules, geo geoip.CountryResolver, ipSalt string) *App {
	return &App{
		Logger: logger,
		Store:  st,
		Rules:  rules,
		Geo:    geo,
		IPSalt: ipSalt,
		locks:  gating.NewKeyedMutex(),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
