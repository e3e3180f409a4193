package app

import (
	"context"
	"errors"
	"fmt"

	"grantline/internal/config"
	"grantline/internal/engine"
	"grantline/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures a project +
// config exist in the database, seeding defaults if missing. It prefers
// the override, then single-project DB.
func ResolveProjectAndConfig(ctx context.Context, e engine.Engine, projectOverride, actorID string) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		if p, err := e.Repo.SingleProject(ctx); err == nil {
			projectID = p.ID
		} else {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		seed := e.Config
		if seed == nil {
			seed = config.Default(projectID)
		}
		title := seed.Project.Title
		if title == "" {
			title = projectID
		}
		if _, err := e.InitProject(ctx, engine.InitOptions{
			ProjectID: projectID,
			Title:     title,
			OrgID:     seed.Project.Org,
			ActorID:   actorID,
		}); err != nil {
			return "", nil, err
		}
	}
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			cfg = config.Default(projectID)
			if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
				return "", nil, fmt.Errorf("seed project config: %w", err)
			}
		} else {
			return "", nil, err
		}
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}
