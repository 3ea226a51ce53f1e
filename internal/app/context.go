package app

import (
	"context"
	"errors"
	"fmt"

	"mastersync/internal/config"
	"mastersync/internal/repo"
)

// ResolveInstanceConfig picks the active instance and ensures its config
// exists in the DB, seeding defaults if missing. The override wins, then the
// workspace YAML file, then the default instance id.
func ResolveInstanceConfig(ctx context.Context, workspace, instanceOverride string, r repo.Repo) (string, *config.Config, error) {
	instanceID := instanceOverride
	var fileCfg *config.Config
	if cfg, err := config.LoadOptional(workspace); err != nil {
		return "", nil, err
	} else if cfg != nil {
		fileCfg = cfg
		if instanceID == "" {
			instanceID = cfg.Instance.ID
		}
	}
	if instanceID == "" {
		instanceID = "local"
	}

	if fileCfg != nil {
		if err := r.UpsertInstanceConfig(ctx, instanceID, fileCfg); err != nil {
			return "", nil, fmt.Errorf("store instance config: %w", err)
		}
		return instanceID, fileCfg, nil
	}

	cfg, err := r.GetInstanceConfig(ctx, instanceID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(instanceID)
		if err := r.UpsertInstanceConfig(ctx, instanceID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed instance config: %w", err)
		}
	}
	cfg.Instance.ID = instanceID
	return instanceID, cfg, nil
}
