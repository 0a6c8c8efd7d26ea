// Package httpstore implements store.Adapter against a remote settings
// service over HTTP. It lets a process consume settings managed by
// another go-settings-admin instance (or anything speaking the same small
// JSON protocol) without direct database access.
//
// Protocol, all JSON, relative to the configured base URL:
//
//	GET  /settings                        every setting
//	GET  /settings?active=true            non-deleted only
//	GET  /settings?updated_since=<ts>     strictly newer than ts (RFC3339Nano)
//	GET  /settings/last-updated           {"last_updated_at": ts|null}
//	GET  /settings/{key}                  one setting, 404 when absent
//	PUT  /settings/{key}                  persist, echoes the stored record
//	GET  /settings/{key}/history          recorded entries, oldest first
//	POST /settings/{key}/history          append one entry
//	POST /settings/{key}/history/redact   null every recorded value
//
// Status mapping: 404 is store.ErrNotFound, 422 carries field-level
// validation messages, transport failures and 5xx are UnavailableError.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-settings-admin/go-settings-admin/internal/config"
	"github.com/go-settings-admin/go-settings-admin/internal/setting"
	"github.com/go-settings-admin/go-settings-admin/internal/store"
)

const defaultTimeout = 10 * time.Second

// Store is a remote HTTP settings store.
type Store struct {
	client  *http.Client
	baseURL string
	token   string
}

// compile-time contract check
var _ store.Adapter = (*Store)(nil)

// Open creates a client for the configured remote service.
func Open(cfg config.Remote) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Store{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
	}
}

// All returns every setting, tombstones included.
func (s *Store) All(ctx context.Context) ([]setting.Setting, error) {
	return s.fetchSettings(ctx, "/settings")
}

// Active returns only non-deleted settings.
func (s *Store) Active(ctx context.Context) ([]setting.Setting, error) {
	return s.fetchSettings(ctx, "/settings?active=true")
}

// UpdatedSince returns settings updated strictly after since, tombstones
// included.
func (s *Store) UpdatedSince(ctx context.Context, since time.Time) ([]setting.Setting, error) {
	query := url.Values{"updated_since": {since.Format(time.RFC3339Nano)}}

	return s.fetchSettings(ctx, "/settings?"+query.Encode())
}

// LastUpdatedAt returns the remote high-water mark or nil when empty.
func (s *Store) LastUpdatedAt(ctx context.Context) (*time.Time, error) {
	var out struct {
		LastUpdatedAt *time.Time `json:"last_updated_at"`
	}

	if err := s.do(ctx, http.MethodGet, "/settings/last-updated", nil, &out); err != nil {
		return nil, err
	}

	return out.LastUpdatedAt, nil
}

// FindByKey returns the setting or store.ErrNotFound.
func (s *Store) FindByKey(ctx context.Context, key string) (*setting.Setting, error) {
	var item setting.Setting

	if err := s.do(ctx, http.MethodGet, "/settings/"+url.PathEscape(key), nil, &item); err != nil {
		return nil, err
	}

	return &item, nil
}

// Persist validates the setting locally, then writes it remotely. The
// authoritative timestamps come back from the server.
func (s *Store) Persist(ctx context.Context, item *setting.Setting) error {
	item.Normalize()

	if err := item.Validate(); err != nil {
		return err
	}

	var stored setting.Setting

	err := s.do(ctx, http.MethodPut, "/settings/"+url.PathEscape(item.Key), item, &stored)
	if err != nil {
		return err
	}

	item.CreatedAt = stored.CreatedAt
	item.UpdatedAt = stored.UpdatedAt

	return nil
}

// CreateHistory appends a history entry remotely.
func (s *Store) CreateHistory(ctx context.Context, entry setting.HistoryEntry) error {
	return s.do(ctx, http.MethodPost, "/settings/"+url.PathEscape(entry.Key)+"/history", entry, nil)
}

// History returns the recorded entries of a key, oldest first.
func (s *Store) History(ctx context.Context, key string) ([]setting.HistoryEntry, error) {
	entries := []setting.HistoryEntry{}

	if err := s.do(ctx, http.MethodGet, "/settings/"+url.PathEscape(key)+"/history", nil, &entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// RedactHistory nulls every recorded value of the key remotely.
func (s *Store) RedactHistory(ctx context.Context, key string) error {
	return s.do(ctx, http.MethodPost, "/settings/"+url.PathEscape(key)+"/history/redact", nil, nil)
}

func (s *Store) fetchSettings(ctx context.Context, path string) ([]setting.Setting, error) {
	items := []setting.Setting{}

	if err := s.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}

	return items, nil
}

// do runs one request and maps the response status to the adapter error
// taxonomy.
func (s *Store) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "failed to encode %s %s payload", method, path)
		}

		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return errors.Wrapf(err, "failed to build %s %s request", method, path)
	}

	req.Header.Set("Accept", "application/json")

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return store.Unavailable(err)
	}

	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return store.ErrNotFound
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return decodeValidationError(resp.Body)
	case resp.StatusCode >= http.StatusInternalServerError:
		return store.Unavailable(errors.Errorf("remote settings service returned %s", resp.Status))
	case resp.StatusCode >= http.StatusBadRequest:
		return errors.Errorf("%s %s: remote settings service returned %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode %s %s response", method, path)
	}

	return nil
}

// decodeValidationError rebuilds the field-level error a remote Persist
// rejected with.
func decodeValidationError(body io.Reader) error {
	var payload struct {
		Errors map[string][]string `json:"errors"`
	}

	if err := json.NewDecoder(body).Decode(&payload); err != nil || len(payload.Errors) == 0 {
		verr := &setting.ValidationError{}
		verr.Add("raw_value", "rejected by remote settings service")

		return verr
	}

	verr := &setting.ValidationError{Fields: payload.Errors}

	return verr
}

// String names the store in log output.
func (s *Store) String() string {
	return fmt.Sprintf("httpstore(%s)", s.baseURL)
}
