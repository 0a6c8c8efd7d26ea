// Package s3store implements store.Adapter on an S3 bucket. The whole
// settings state lives in one JSON document that is read, modified and
// written back as a unit; reads are cheap, writes serialize on the store.
// Suited for small setting counts and infrequent writes, which is the
// normal shape of application settings.
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"

	"github.com/go-settings-admin/go-settings-admin/internal/config"
	"github.com/go-settings-admin/go-settings-admin/internal/setting"
	"github.com/go-settings-admin/go-settings-admin/internal/store"
)

// Client is the slice of the S3 API this store needs. *s3.Client
// satisfies it; tests substitute an in-memory fake.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// document is the on-bucket JSON form of the whole store.
type document struct {
	Settings []setting.Setting                 `json:"settings"`
	History  map[string][]setting.HistoryEntry `json:"history"`
}

// Store is an S3 backed settings store.
type Store struct {
	client Client
	bucket string
	key    string

	// writes rewrite the whole document, one at a time
	mu  sync.Mutex
	now func() time.Time
}

// compile-time contract check
var _ store.Adapter = (*Store)(nil)

// Connect loads the default AWS config and opens the configured bucket.
func Connect(ctx context.Context, cfg config.S3) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "loading AWS config")
	}

	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}

	var s3Options []func(*s3.Options)

	// Handle custom endpoint (for S3-compatible storage)
	if cfg.Endpoint != "" {
		s3Options = append(s3Options, func(opts *s3.Options) {
			opts.BaseEndpoint = aws.String(cfg.Endpoint)
			opts.UsePathStyle = true
		})
	}

	return New(s3.NewFromConfig(awsCfg, s3Options...), cfg.Bucket, cfg.Key), nil
}

// New wraps an existing S3 client.
func New(client Client, bucket, key string) *Store {
	if key == "" {
		key = "settings.json"
	}

	return &Store{client: client, bucket: bucket, key: key, now: time.Now}
}

// SetNow replaces the clock used for persistence timestamps.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

// All returns every setting, tombstones included.
func (s *Store) All(ctx context.Context) ([]setting.Setting, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	return doc.Settings, nil
}

// Active returns only non-deleted settings.
func (s *Store) Active(ctx context.Context) ([]setting.Setting, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]setting.Setting, 0, len(doc.Settings))

	for _, item := range doc.Settings {
		if !item.Deleted {
			active = append(active, item)
		}
	}

	return active, nil
}

// UpdatedSince returns settings updated strictly after since, tombstones
// included.
func (s *Store) UpdatedSince(ctx context.Context, since time.Time) ([]setting.Setting, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	changed := make([]setting.Setting, 0)

	for _, item := range doc.Settings {
		if item.UpdatedAt.After(since) {
			changed = append(changed, item)
		}
	}

	return changed, nil
}

// LastUpdatedAt returns the newest UpdatedAt or nil when empty.
func (s *Store) LastUpdatedAt(ctx context.Context) (*time.Time, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	var max *time.Time

	for _, item := range doc.Settings {
		if max == nil || item.UpdatedAt.After(*max) {
			t := item.UpdatedAt
			max = &t
		}
	}

	return max, nil
}

// FindByKey returns the setting or store.ErrNotFound.
func (s *Store) FindByKey(ctx context.Context, key string) (*setting.Setting, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	for _, item := range doc.Settings {
		if item.Key == key {
			found := item

			return &found, nil
		}
	}

	return nil, store.ErrNotFound
}

// Persist validates the setting and rewrites the document with it.
// UpdatedAt is kept strictly increasing per document.
func (s *Store) Persist(ctx context.Context, item *setting.Setting) error {
	item.Normalize()

	if err := item.Validate(); err != nil {
		return err
	}

	return s.update(ctx, func(doc *document) {
		now := s.now()

		if last := maxUpdatedAt(doc); last != nil && !now.After(*last) {
			now = last.Add(time.Nanosecond)
		}

		item.CreatedAt = now
		item.UpdatedAt = now

		for i, existing := range doc.Settings {
			if existing.Key == item.Key {
				item.CreatedAt = existing.CreatedAt
				doc.Settings[i] = *item

				return
			}
		}

		doc.Settings = append(doc.Settings, *item)
		sort.Slice(doc.Settings, func(i, j int) bool { return doc.Settings[i].Key < doc.Settings[j].Key })
	})
}

// CreateHistory appends a history entry to the document.
func (s *Store) CreateHistory(ctx context.Context, entry setting.HistoryEntry) error {
	return s.update(ctx, func(doc *document) {
		doc.History[entry.Key] = append(doc.History[entry.Key], entry)
	})
}

// History returns the recorded entries of a key, oldest first.
func (s *Store) History(ctx context.Context, key string) ([]setting.HistoryEntry, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	return doc.History[key], nil
}

// RedactHistory nulls every recorded value of the key.
func (s *Store) RedactHistory(ctx context.Context, key string) error {
	return s.update(ctx, func(doc *document) {
		entries := doc.History[key]
		for i := range entries {
			entries[i].Value = nil
		}
	})
}

// load fetches and decodes the document. A missing object is an empty
// store, not a failure.
func (s *Store) load(ctx context.Context) (*document, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return emptyDocument(), nil
		}

		return nil, store.Unavailable(err)
	}

	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, store.Unavailable(err)
	}

	doc := emptyDocument()

	if err := json.Unmarshal(body, doc); err != nil {
		return nil, errors.Wrapf(err, "failed to decode settings document s3://%s/%s", s.bucket, s.key)
	}

	if doc.History == nil {
		doc.History = make(map[string][]setting.HistoryEntry)
	}

	return doc, nil
}

// update applies fn to the document and writes it back under the lock.
func (s *Store) update(ctx context.Context, fn func(*document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}

	fn(doc)

	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "failed to encode settings document s3://%s/%s", s.bucket, s.key)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return store.Unavailable(err)
	}

	return nil
}

func emptyDocument() *document {
	return &document{
		Settings: []setting.Setting{},
		History:  make(map[string][]setting.HistoryEntry),
	}
}

func maxUpdatedAt(doc *document) *time.Time {
	var max *time.Time

	for _, item := range doc.Settings {
		if max == nil || item.UpdatedAt.After(*max) {
			t := item.UpdatedAt
			max = &t
		}
	}

	return max
}
