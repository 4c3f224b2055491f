package app

import (
	"fmt"

	"rotaline/internal/config"
)

// ResolveOwnerAndConfig picks the active owner and loads the workspace
// config, seeding defaults when rotaline.yml is absent. Overrides win,
// then the config file's owner.
func ResolveOwnerAndConfig(workspace, ownerOverride string) (string, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	ownerID := ownerOverride
	if ownerID == "" && cfg != nil {
		ownerID = cfg.Owner.ID
	}
	if ownerID == "" {
		return "", nil, fmt.Errorf("owner not specified; run rl init or use --owner")
	}
	if cfg == nil {
		cfg = config.Default(ownerID)
	}
	cfg.Owner.ID = ownerID
	return ownerID, cfg, nil
}
