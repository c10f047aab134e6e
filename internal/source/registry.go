package source

import (
	"fmt"
	"log/slog"
	"slices"
)

// Default authority weights per source.
var DefaultAuthority = map[string]float64{
	"senate":      0.9,
	"house":       0.9,
	"congressapi": 0.8,
	"mirror":      0.6,
	"static":      0.4,
}

// DefaultEnabled lists the sources used when none are configured. The static
// fallback is opt-in.
var DefaultEnabled = []string{"senate", "house", "congressapi", "mirror"}

// Settings configures the registry.
type Settings struct {
	Enabled        []string
	Authority      map[string]float64 // overrides DefaultAuthority
	SenateURL      string
	HousePages     []HousePage
	CongressAPIURL string
	CongressAPIKey string
	MirrorURL      string
}

// Registry holds the enabled adapters in a stable order.
type Registry struct {
	adapters []Adapter
	byID     map[string]Adapter
}

// NewRegistry builds adapters for every enabled source. Sources whose required
// configuration is missing are registered disabled so the service always
// starts; their failures surface in the health report.
func NewRegistry(s Settings, f Fetcher, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	enabled := s.Enabled
	if len(enabled) == 0 {
		enabled = DefaultEnabled
	}

	r := &Registry{byID: make(map[string]Adapter)}
	for _, id := range enabled {
		if _, dup := r.byID[id]; dup {
			continue
		}
		w, ok := s.Authority[id]
		if !ok {
			w = DefaultAuthority[id]
		}
		if w < 0 || w > 1 {
			return nil, fmt.Errorf("source %s: authority weight %v outside [0,1]", id, w)
		}

		var a Adapter
		switch id {
		case "senate":
			a = NewSenate(f, s.SenateURL, w)
		case "house":
			a = NewHouse(f, s.HousePages, w)
		case "congressapi":
			if s.CongressAPIKey == "" {
				logger.Warn("source disabled", "source", id, "reason", "CONGRESS_API_KEY is not set")
				a = NewDisabledAdapter(id, w, "CONGRESS_API_KEY is not set")
			} else {
				a = NewCongressAPI(f, s.CongressAPIKey, s.CongressAPIURL, w)
			}
		case "mirror":
			a = NewMirror(f, s.MirrorURL, w)
		case "static":
			if w > MaxStaticAuthority {
				logger.Warn("static source authority clamped", "requested", w, "max", MaxStaticAuthority)
			}
			a = NewStatic(w)
		default:
			return nil, fmt.Errorf("unknown source %q", id)
		}
		r.Register(a)
	}
	return r, nil
}

// Register adds or replaces an adapter under its fingerprint id.
func (r *Registry) Register(a Adapter) {
	id := a.Fingerprint().ID
	if _, ok := r.byID[id]; ok {
		r.adapters = slices.DeleteFunc(r.adapters, func(x Adapter) bool { return x.Fingerprint().ID == id })
	}
	r.byID[id] = a
	r.adapters = append(r.adapters, a)
}

// Adapters returns the registered adapters in registration order.
func (r *Registry) Adapters() []Adapter {
	return slices.Clone(r.adapters)
}

// ByID returns the adapter registered under id.
func (r *Registry) ByID(id string) (Adapter, error) {
	a, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("source %q is not registered", id)
	}
	return a, nil
}

// Authorities maps each registered source id to its authority weight.
func (r *Registry) Authorities() map[string]float64 {
	out := make(map[string]float64, len(r.adapters))
	for _, a := range r.adapters {
		fp := a.Fingerprint()
		out[fp.ID] = fp.Authority
	}
	return out
}
