package daemon

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/go-settings-admin/go-settings-admin/internal/config"
	"github.com/go-settings-admin/go-settings-admin/internal/setting"
	"github.com/go-settings-admin/go-settings-admin/internal/settings"
)

const seededBy = "seed"

// seed writes a handful of default settings when the store is empty so a
// fresh install has something to show in the admin API.
func seed(ctx context.Context, svc *settings.Service, cfg *config.Config) error {
	existing, err := svc.List(ctx, true)
	if err != nil {
		return err
	}

	if len(existing) > 0 {
		return nil
	}

	title := cfg.Title
	if title == "" {
		title = "Go Settings Admin"
	}

	maintenance := "off"

	defaults := []setting.Setting{
		{
			Key:         "app.title",
			RawValue:    &title,
			ValueType:   setting.TypeString,
			Description: "Display name of this installation",
		},
		{
			Key:         "app.maintenance_mode",
			RawValue:    &maintenance,
			ValueType:   setting.TypeBoolean,
			Description: "Serve a maintenance page instead of the application",
		},
	}

	for i := range defaults {
		if err := svc.Set(ctx, &defaults[i], seededBy); err != nil {
			return err
		}
	}

	log.Info().Int("count", len(defaults)).Msg("seeded default settings")

	return nil
}
