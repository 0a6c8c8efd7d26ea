// Package api provides the JSON handlers for managing settings (CRUD,
// restore, history, redaction).
package api

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-settings-admin/go-settings-admin/internal/config"
	"github.com/go-settings-admin/go-settings-admin/internal/setting"
	"github.com/go-settings-admin/go-settings-admin/internal/settings"
	"github.com/go-settings-admin/go-settings-admin/internal/store"
)

const (
	// Path is the base path for the settings API.
	Path = "/api/settings"

	// ChangedByHeader attributes a write; the value lands in history.
	ChangedByHeader = "X-Changed-By"

	// DefaultChangedBy is recorded when the header is absent.
	DefaultChangedBy = "api"
)

// Service provides the settings API handlers.
type Service struct {
	cfg       *config.Config
	settings  *settings.Service
	validator *validator.Validate
}

// Handler is the exported instance.
var Handler = Service{}

// Init registers routes.
func (s *Service) Init(app *fiber.App, cfg *config.Config, svc *settings.Service) {
	if app == nil || cfg == nil || svc == nil {
		log.Fatal().Msg("app, cfg or settings service is nil")
		return
	}

	s.cfg = cfg
	s.settings = svc
	s.validator = validator.New()

	// Routes
	app.Get(Path, s.List)
	app.Get(Path+"/:key", s.Get)
	app.Put(Path+"/:key", s.Put)
	app.Delete(Path+"/:key", s.Delete)
	app.Post(Path+"/:key/restore", s.Restore)
	app.Get(Path+"/:key/history", s.History)
	app.Post(Path+"/:key/history/redact", s.RedactHistory)
}

// settingResponse is the wire form of a setting. Secret plaintext never
// leaves the service; the masked display form is rendered instead.
type settingResponse struct {
	Key         string    `json:"key"`
	Value       *string   `json:"value"`
	ValueType   string    `json:"value_type"`
	Description string    `json:"description,omitempty"`
	Deleted     bool      `json:"deleted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toResponse(item *setting.Setting) settingResponse {
	out := settingResponse{
		Key:         item.Key,
		Value:       item.RawValue,
		ValueType:   string(item.ValueType),
		Description: item.Description,
		Deleted:     item.Deleted,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}

	if item.Secret() {
		out.Value = item.Value().Masked()
	}

	return out
}

// List returns every setting, tombstones only on request.
func (s *Service) List(c *fiber.Ctx) error {
	includeDeleted := c.QueryBool("include_deleted", false)

	items, err := s.settings.List(c.UserContext(), includeDeleted)
	if err != nil {
		return s.fail(c, err, "failed to list settings")
	}

	out := make([]settingResponse, 0, len(items))
	for i := range items {
		out = append(out, toResponse(&items[i]))
	}

	return c.JSON(out)
}

// Get returns one setting, tombstones included.
func (s *Service) Get(c *fiber.Ctx) error {
	item, err := s.settings.Find(c.UserContext(), c.Params("key"))
	if err != nil {
		return s.fail(c, err, "failed to load setting")
	}

	return c.JSON(toResponse(item))
}

// Put creates or updates a setting.
func (s *Service) Put(c *fiber.Ctx) error {
	var in struct {
		RawValue    *string `json:"raw_value"`
		ValueType   string  `json:"value_type"   validate:"omitempty,oneof=string integer float boolean datetime array secret"`
		Description string  `json:"description"  validate:"max=255"`
	}

	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid json body"})
	}

	if err := s.validator.Struct(in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	item := &setting.Setting{
		Key:         c.Params("key"),
		RawValue:    in.RawValue,
		ValueType:   setting.ValueType(in.ValueType),
		Description: in.Description,
	}

	if err := s.settings.Set(c.UserContext(), item, changedBy(c)); err != nil {
		return s.fail(c, err, "failed to persist setting")
	}

	return c.JSON(toResponse(item))
}

// Delete tombstones a setting.
func (s *Service) Delete(c *fiber.Ctx) error {
	key := c.Params("key")

	if err := s.settings.Delete(c.UserContext(), key, changedBy(c)); err != nil {
		return s.fail(c, err, "failed to delete setting")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Restore clears a tombstone.
func (s *Service) Restore(c *fiber.Ctx) error {
	key := c.Params("key")

	if err := s.settings.Restore(c.UserContext(), key, changedBy(c)); err != nil {
		return s.fail(c, err, "failed to restore setting")
	}

	item, err := s.settings.Find(c.UserContext(), key)
	if err != nil {
		return s.fail(c, err, "failed to load setting")
	}

	return c.JSON(toResponse(item))
}

// History returns the recorded history of a key, oldest first.
func (s *Service) History(c *fiber.Ctx) error {
	entries, err := s.settings.History(c.UserContext(), c.Params("key"))
	if err != nil {
		return s.fail(c, err, "failed to load setting history")
	}

	return c.JSON(entries)
}

// RedactHistory nulls every recorded value of a key.
func (s *Service) RedactHistory(c *fiber.Ctx) error {
	if err := s.settings.RedactHistory(c.UserContext(), c.Params("key")); err != nil {
		return s.fail(c, err, "failed to redact setting history")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// fail maps the service error taxonomy to HTTP statuses.
func (s *Service) fail(c *fiber.Ctx, err error, msg string) error {
	if verr, ok := setting.AsValidation(err); ok {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"errors": verr.Fields})
	}

	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "setting not found"})
	}

	if store.IsUnavailable(err) {
		log.Warn().Err(err).Str("key", c.Params("key")).Msg(msg)

		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "settings store unavailable"})
	}

	log.Error().Err(err).Str("key", c.Params("key")).Msg(msg)

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": msg})
}

func changedBy(c *fiber.Ctx) string {
	if who := c.Get(ChangedByHeader); who != "" {
		return who
	}

	return DefaultChangedBy
}
