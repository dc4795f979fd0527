// Package territory resolves Ohio ZIP codes to natural-gas utility service
// territories. Assignment uses an explicit ZIP override table for split
// counties, then falls back to ZIP-range heuristics. The override table
// comes from PUCO service territory documentation and is embedded at build
// time.
package territory

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PriceUnit is the unit a territory's portal page quotes prices in.
type PriceUnit string

const (
	UnitCcf PriceUnit = "ccf" // canonical
	UnitMcf PriceUnit = "mcf" // rescaled 1:10 to Ccf during normalization
)

// Territory describes one utility service area.
type Territory struct {
	ID       string
	Name     string
	PUCOCode string
	Unit     PriceUnit
}

// The four Ohio energy-choice natural gas utilities.
var definitions = []Territory{
	{ID: "enbridge", Name: "Enbridge Gas Ohio", PUCOCode: "1", Unit: UnitCcf},
	{ID: "columbia", Name: "Columbia Gas of Ohio", PUCOCode: "8", Unit: UnitCcf},
	{ID: "duke", Name: "Duke Energy Ohio", PUCOCode: "10", Unit: UnitMcf},
	{ID: "centerpoint", Name: "CenterPoint Energy Ohio", PUCOCode: "11", Unit: UnitCcf},
}

//go:embed zip_overrides.json
var zipOverridesJSON []byte

// Resolver maps ZIP codes to territories. Construct with NewResolver and
// inject where needed; the parsed table is instance state, not a package
// global, so tests can substitute their own.
type Resolver struct {
	byID      map[string]Territory
	overrides map[string]string
}

// NewResolver parses the embedded override table.
func NewResolver() (*Resolver, error) {
	var overrides map[string]string
	if err := json.Unmarshal(zipOverridesJSON, &overrides); err != nil {
		return nil, fmt.Errorf("parse zip override table: %w", err)
	}

	byID := make(map[string]Territory, len(definitions))
	for _, t := range definitions {
		byID[t.ID] = t
	}
	for _, id := range overrides {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("zip override table references unknown territory %q", id)
		}
	}

	return &Resolver{byID: byID, overrides: overrides}, nil
}

// All returns the territory definitions in a stable order.
func (r *Resolver) All() []Territory {
	out := make([]Territory, len(definitions))
	copy(out, definitions)
	return out
}

// ByID returns a territory definition by id.
func (r *Resolver) ByID(id string) (Territory, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// Resolve assigns a territory to a 5-digit Ohio ZIP code. Explicit overrides
// win; otherwise ZIP ranges decide. Columbia is the statewide default, which
// matches its position as the largest gas utility.
func (r *Resolver) Resolve(zip string) (Territory, error) {
	zip = strings.TrimSpace(zip)
	if len(zip) != 5 {
		return Territory{}, fmt.Errorf("invalid zip %q", zip)
	}
	n, err := strconv.Atoi(zip)
	if err != nil {
		return Territory{}, fmt.Errorf("invalid zip %q", zip)
	}
	if n < 43001 || n > 45999 {
		return Territory{}, fmt.Errorf("zip %s is outside Ohio", zip)
	}

	if id, ok := r.overrides[zip]; ok {
		return r.byID[id], nil
	}

	switch {
	case n >= 45300 && n <= 45510:
		// Dayton/Springfield metro.
		return r.byID["centerpoint"], nil
	case n >= 45001 && n <= 45299:
		// Cincinnati metro.
		return r.byID["duke"], nil
	case n >= 44000 && n <= 44999:
		// Northeast Ohio.
		return r.byID["enbridge"], nil
	default:
		return r.byID["columbia"], nil
	}
}
