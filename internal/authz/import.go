package authz

import (
	"context"
	"encoding/json"
	"fmt"
)

// legacyGrant is the shape of the old single-JSON-blob role permission
// format: a map of module name to action list, with an optional scope
// marker per module.
//
//	{"requisitions": {"actions": ["view", "create"], "scope": "own_department"}}
type legacyGrant struct {
	Actions []string `json:"actions"`
	Scope   string   `json:"scope,omitempty"`
}

// ImportLegacyPermissions converts a legacy JSON permission blob into
// normalized (role, permission) rows. The JSON form is accepted only as
// an import format; it is never the runtime representation.
func ImportLegacyPermissions(ctx context.Context, repo *Repository, roleID string, blob []byte) error {
	var legacy map[string]legacyGrant
	if err := json.Unmarshal(blob, &legacy); err != nil {
		return fmt.Errorf("failed to parse legacy permission blob: %w", err)
	}

	for module, grant := range legacy {
		filter := ParseScopeFilter(grant.Scope)
		for _, action := range grant.Actions {
			permID, err := repo.EnsurePermission(ctx, module, action)
			if err != nil {
				return fmt.Errorf("failed to ensure permission %s.%s: %w", module, action, err)
			}
			if err := repo.AttachGrant(ctx, roleID, permID, filter); err != nil {
				return fmt.Errorf("failed to attach %s.%s to role %s: %w", module, action, roleID, err)
			}
		}
	}

	return nil
}
