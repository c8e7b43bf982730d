package plugin

import (
	"fmt"
	"slices"
	"strings"
)

// ConflictError reports two loaded plugins whose conflicts/provides sets
// overlap. Detected before any hook executes.
type ConflictError struct {
	Declarer   string
	Provider   string
	Capability Capability
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("plugin %s conflicts with capability %s provided by plugin %s",
		e.Declarer, e.Capability, e.Provider)
}

// MissingCapabilityError reports a required capability no loaded plugin
// provides.
type MissingCapabilityError struct {
	Plugin     string
	Capability Capability
}

func (e *MissingCapabilityError) Error() string {
	return fmt.Sprintf("plugin %s requires capability %s which no loaded plugin provides",
		e.Plugin, e.Capability)
}

// CycleError reports a dependency cycle in the capability graph.
type CycleError struct {
	Plugins []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("capability dependency cycle involving plugins: %s",
		strings.Join(e.Plugins, ", "))
}

// ResolveOrder validates the capability graph and computes a load order in
// which every plugin appears after all plugins providing a capability it
// requires. Ties are broken by declaration order, so the result is
// deterministic for a given configuration. The input slice is not modified.
func ResolveOrder(instances []*Instance) ([]*Instance, error) {
	providers := make(map[Capability][]int)
	for idx, inst := range instances {
		for _, cap := range inst.Info.Provides {
			providers[cap] = append(providers[cap], idx)
		}
	}

	// Conflict check first: a conflicts/provides overlap between two loaded
	// plugins is fatal regardless of whether an order exists.
	for idx, inst := range instances {
		for _, cap := range inst.Info.Conflicts {
			for _, provIdx := range providers[cap] {
				if provIdx == idx {
					continue
				}
				return nil, &ConflictError{
					Declarer:   inst.Info.Name,
					Provider:   instances[provIdx].Info.Name,
					Capability: cap,
				}
			}
		}
	}

	// Edge from provider to requirer for every required capability. A plugin
	// providing its own requirement needs no incoming edge for it.
	indegree := make([]int, len(instances))
	dependents := make([][]int, len(instances))
	for idx, inst := range instances {
		for _, cap := range inst.Info.Requires {
			if slices.Contains(inst.Info.Provides, cap) {
				continue
			}
			provs := providers[cap]
			if len(provs) == 0 {
				return nil, &MissingCapabilityError{Plugin: inst.Info.Name, Capability: cap}
			}
			for _, provIdx := range provs {
				dependents[provIdx] = append(dependents[provIdx], idx)
				indegree[idx]++
			}
		}
	}

	// Kahn's algorithm, always selecting the ready node with the lowest
	// declaration index to keep the order stable.
	ordered := make([]*Instance, 0, len(instances))
	placed := make([]bool, len(instances))
	for len(ordered) < len(instances) {
		next := -1
		for idx := range instances {
			if !placed[idx] && indegree[idx] == 0 {
				next = idx
				break
			}
		}
		if next < 0 {
			var cycle []string
			for idx, inst := range instances {
				if !placed[idx] {
					cycle = append(cycle, inst.Info.Name)
				}
			}
			return nil, &CycleError{Plugins: cycle}
		}
		placed[next] = true
		ordered = append(ordered, instances[next])
		for _, dep := range dependents[next] {
			indegree[dep]--
		}
	}
	return ordered, nil
}
