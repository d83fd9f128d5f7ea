package store

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/articlemail/internal/config"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Shared keys. The three payload keys are always written and removed together.
const (
	KeySiteConfigs    = "siteConfigs"
	KeyUserSettings   = "userSettings"
	KeyArticleContent = "articleContentForGmail"
	KeyArticleTo      = "articleToEmail"
	KeyArticleSubject = "articleSubject"
	KeyLastArticle    = "lastArticleContent"
)

var payloadKeys = []string{KeyArticleContent, KeyArticleTo, KeyArticleSubject}

// StagedPayload is the content waiting for the compose window. There is one slot.
type StagedPayload struct {
	ContentHTML    string `json:"contentHtml"`
	RecipientEmail string `json:"recipientEmail"`
	Subject        string `json:"subject"`
}

// UserSettings are read on every send and never changed by the core flow.
type UserSettings struct {
	ClipboardEnabled       bool `json:"clipboardEnabled"`
	ClipboardPlainTextOnly bool `json:"clipboardPlainTextOnly"`
	ToastEnabled           bool `json:"toastEnabled"`
}

// DefaultSettings applies when nothing is stored.
func DefaultSettings() UserSettings {
	return UserSettings{ClipboardEnabled: true, ClipboardPlainTextOnly: false, ToastEnabled: true}
}

// Store layers typed access over a Backend.
type Store struct {
	backend Backend
	log     *zap.Logger
}

// New wraps an already opened backend.
func New(backend Backend, logger *zap.Logger) *Store {
	return &Store{backend: backend, log: logger.Named("store")}
}

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*Store, error) {
	var (
		b   Backend
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		b, err = NewSQLiteBackend(ctx, cfg.Path, logger)
	case "postgres":
		b, err = openPostgres(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return New(b, logger), nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// GetJSON decodes key into v. It reports false when the key is absent.
func (s *Store) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.GetRaw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

// GetRaw returns the stored JSON document for key.
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	vals, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	v, ok := vals[key]
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

// PutJSON encodes v and stores it under key.
func (s *Store) PutJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	return s.backend.Set(ctx, map[string]string{key: string(b)})
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return s.backend.Delete(ctx, keys...)
}

// StagePayload overwrites the staged slot.
func (s *Store) StagePayload(ctx context.Context, p StagedPayload) error {
	vals := make(map[string]string, len(payloadKeys))
	for k, v := range map[string]string{
		KeyArticleContent: p.ContentHTML,
		KeyArticleTo:      p.RecipientEmail,
		KeyArticleSubject: p.Subject,
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %q: %w", k, err)
		}
		vals[k] = string(b)
	}
	if err := s.backend.Set(ctx, vals); err != nil {
		return fmt.Errorf("failed to stage payload: %w", err)
	}
	s.log.Debug("Payload staged", zap.Int("bytes", len(p.ContentHTML)), zap.String("subject", p.Subject))
	return nil
}

// PeekPayload reads the staged slot without consuming it. A slot without
// content counts as empty.
func (s *Store) PeekPayload(ctx context.Context) (StagedPayload, bool, error) {
	vals, err := s.backend.Get(ctx, payloadKeys...)
	if err != nil {
		return StagedPayload{}, false, err
	}
	return decodePayload(vals)
}

// TakePayload atomically reads and clears the staged slot. When several
// callers race, exactly one of them gets the payload.
func (s *Store) TakePayload(ctx context.Context) (StagedPayload, bool, error) {
	vals, err := s.backend.Take(ctx, payloadKeys...)
	if err != nil {
		return StagedPayload{}, false, fmt.Errorf("failed to take payload: %w", err)
	}
	p, ok, err := decodePayload(vals)
	if ok {
		s.log.Debug("Payload taken", zap.Int("bytes", len(p.ContentHTML)))
	}
	return p, ok, err
}

// ClearPayload drops the staged slot.
func (s *Store) ClearPayload(ctx context.Context) error {
	return s.backend.Delete(ctx, payloadKeys...)
}

func decodePayload(vals map[string]string) (StagedPayload, bool, error) {
	var p StagedPayload
	for key, dst := range map[string]*string{
		KeyArticleContent: &p.ContentHTML,
		KeyArticleTo:      &p.RecipientEmail,
		KeyArticleSubject: &p.Subject,
	} {
		raw, ok := vals[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return StagedPayload{}, false, fmt.Errorf("failed to decode %q: %w", key, err)
		}
	}
	if p.ContentHTML == "" {
		return StagedPayload{}, false, nil
	}
	return p, true, nil
}

// Settings returns the stored settings, with defaults for anything missing.
func (s *Store) Settings(ctx context.Context) (UserSettings, error) {
	var stored struct {
		ClipboardEnabled       *bool `json:"clipboardEnabled"`
		ClipboardPlainTextOnly *bool `json:"clipboardPlainTextOnly"`
		ToastEnabled           *bool `json:"toastEnabled"`
	}
	settings := DefaultSettings()
	ok, err := s.GetJSON(ctx, KeyUserSettings, &stored)
	if err != nil {
		// A corrupt record must not break sending.
		s.log.Warn("Ignoring unreadable user settings", zap.Error(err))
		return settings, nil
	}
	if !ok {
		return settings, nil
	}
	if stored.ClipboardEnabled != nil {
		settings.ClipboardEnabled = *stored.ClipboardEnabled
	}
	if stored.ClipboardPlainTextOnly != nil {
		settings.ClipboardPlainTextOnly = *stored.ClipboardPlainTextOnly
	}
	if stored.ToastEnabled != nil {
		settings.ToastEnabled = *stored.ToastEnabled
	}
	return settings, nil
}

// SaveSettings replaces the stored settings.
func (s *Store) SaveSettings(ctx context.Context, settings UserSettings) error {
	return s.PutJSON(ctx, KeyUserSettings, settings)
}
