package notify

import (
	"encoding/json"

	"github.com/benkietzman/centralmon/internal/catalog"
	"github.com/benkietzman/centralmon/internal/registry"
)

// scriptPayload is the JSON document handed to a daemon's remediation
// script on its standard input.
type scriptPayload struct {
	Type         string          `json:"type"`
	Daemon       string          `json:"daemon"`
	Start        string          `json:"start"`
	Owner        map[string]uint `json:"owner"`
	Processes    int             `json:"processes"`
	MinProcesses int             `json:"min_processes"`
	MaxProcesses int             `json:"max_processes"`
	Image        uint64          `json:"image"`
	MinImage     uint64          `json:"min_image"`
	MaxImage     uint64          `json:"max_image"`
	Resident     uint64          `json:"resident"`
	MinResident  uint64          `json:"min_resident"`
	MaxResident  uint64          `json:"max_resident"`
	Contacts     []string        `json:"contacts"`
}

// ScriptPayload renders the remediation payload for a process alarm: the
// observed sample (including the per-instance image and resident extremes),
// the catalog process bounds, and the contact routing list. Contacts appear
// as email addresses, with a "!"-prefixed userid per pager contact;
// duplicates are dropped in first-seen order.
func ScriptPayload(p *registry.Process, contacts []catalog.Contact) ([]byte, error) {
	owners := make(map[string]uint, len(p.Sample.Owners))
	for _, o := range p.Sample.Owners {
		owners[o.Owner] = o.Count
	}

	var routes []string
	seen := make(map[string]bool)
	add := func(route string) {
		if route == "" || seen[route] {
			return
		}
		seen[route] = true
		routes = append(routes, route)
	}
	for _, c := range contacts {
		add(c.Email)
		if c.Pager {
			add("!" + c.UserID)
		}
	}

	return json.Marshal(scriptPayload{
		Type:         "process",
		Daemon:       p.Spec.Name,
		Start:        p.Sample.Start,
		Owner:        owners,
		Processes:    p.Sample.Processes,
		MinProcesses: p.Spec.MinProcesses,
		MaxProcesses: p.Spec.MaxProcesses,
		Image:        p.Sample.ImageKB,
		MinImage:     p.Sample.MinImageKB,
		MaxImage:     p.Sample.MaxImageKB,
		Resident:     p.Sample.ResidentKB,
		MinResident:  p.Sample.MinResidentKB,
		MaxResident:  p.Sample.MaxResidentKB,
		Contacts:     routes,
	})
}
