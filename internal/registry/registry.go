// Package registry holds the static per-DCC configuration: which Data
// Coordinating Centers exist and where their normalized datapackages live.
package registry

import (
	"sort"
	"strings"

	"cfdb/internal/apperr"
	"cfdb/internal/config"
)

// DCC describes one Data Coordinating Center known to the service.
type DCC struct {
	Name        string // normalized lowercase name, e.g. "4dn"
	DisplayName string
	PackageURL  string
}

// Registry is the set of supported DCCs.
type Registry struct {
	dccs map[string]DCC
}

// defaults are the DCCs supported out of the box; config entries override or
// extend them.
var defaults = []DCC{
	{Name: "4dn", DisplayName: "4D NUCLEOME DATA COORDINATION AND INTEGRATION CENTER"},
	{Name: "hubmap", DisplayName: "Human BioMolecular Atlas Program"},
}

// New builds a registry from defaults merged with configuration.
func New(cfgs []config.DCCConfig) *Registry {
	dccs := map[string]DCC{}
	for _, d := range defaults {
		dccs[d.Name] = d
	}
	for _, c := range cfgs {
		name := NormalizeName(c.Name)
		if name == "" {
			continue
		}
		d := dccs[name]
		d.Name = name
		if c.DisplayName != "" {
			d.DisplayName = c.DisplayName
		}
		if c.PackageURL != "" {
			d.PackageURL = c.PackageURL
		}
		dccs[name] = d
	}
	return &Registry{dccs: dccs}
}

// NormalizeName lowercases and trims a DCC name for comparison.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Get returns the DCC with the given (case-insensitive) name.
func (r *Registry) Get(name string) (DCC, error) {
	d, ok := r.dccs[NormalizeName(name)]
	if !ok {
		return DCC{}, apperr.New(apperr.BadRequest, "unknown DCC %q, available: %s", name, strings.Join(r.Names(), ", "))
	}
	return d, nil
}

// Names returns every supported DCC name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.dccs))
	for name := range r.dccs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
