package swarm

import (
	"fmt"

	"github.com/coreagent/runtime/pkg/models"
)

// computeWaves topologically sorts a preset's roles by DependsOn using
// Kahn's algorithm: a role becomes eligible for wave N once every role it
// depends on has been placed in an earlier wave. Roles with no remaining
// dependencies within the same wave run concurrently.
func computeWaves(roles []models.RolePreset) ([][]models.RolePreset, error) {
	byRole := make(map[models.SwarmRole]models.RolePreset, len(roles))
	indegree := make(map[models.SwarmRole]int, len(roles))
	dependents := make(map[models.SwarmRole][]models.SwarmRole)

	for _, r := range roles {
		if _, dup := byRole[r.Role]; dup {
			return nil, fmt.Errorf("swarm: duplicate role %q in preset", r.Role)
		}
		byRole[r.Role] = r
		indegree[r.Role] = 0
	}
	for _, r := range roles {
		for _, dep := range r.DependsOn {
			if _, ok := byRole[dep]; !ok {
				return nil, fmt.Errorf("swarm: role %q depends on unknown role %q", r.Role, dep)
			}
			indegree[r.Role]++
			dependents[dep] = append(dependents[dep], r.Role)
		}
	}

	var waves [][]models.RolePreset
	remaining := len(roles)
	for remaining > 0 {
		var ready []models.SwarmRole
		for role, deg := range indegree {
			if deg == 0 {
				ready = append(ready, role)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("swarm: dependency cycle detected among roles")
		}

		wave := make([]models.RolePreset, 0, len(ready))
		for _, role := range ready {
			wave = append(wave, byRole[role])
			delete(indegree, role)
			remaining--
		}
		for _, role := range ready {
			for _, dependent := range dependents[role] {
				indegree[dependent]--
			}
		}
		waves = append(waves, wave)
	}

	return waves, nil
}
