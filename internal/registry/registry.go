
// Package registry loads, validates, and caches per-channel configuration
// (§4.2): concurrency caps, voice ids, storage strategy, branding paths, and
// decrypted credentials. It publishes a read-mostly snapshot that lookups
// read without blocking a concurrent Reload.
package registry

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vidforge/orchestrator/internal/orcherr"
	"github.com/vidforge/orchestrator/internal/validation"
	"github.com/vidforge/orchestrator/internal/vault"
)

// StorageStrategy enumerates where a channel's intermediate artifacts live.
type StorageStrategy string

const (
	StorageFilesystem StorageStrategy = "filesystem"
	StorageObjectStore StorageStrategy = "object_store"
	StoragePlanningDB StorageStrategy = "planning_db"
)

// BrandingPaths are filesystem paths to static channel-branded assets.
type BrandingPaths struct {
	Intro     string `koanf:"intro"`
	Outro     string `koanf:"outro"`
	Watermark string `koanf:"watermark"`
}

// Channel is a logical content lane with isolated credentials and capacity.
type Channel struct {
	ID                 string            `koanf:"id" validate:"required"`
	Name               string            `koanf:"name"`
	Active             bool              `koanf:"active"`
	MaxConcurrent      int               `koanf:"max_concurrent" validate:"gte=1"`
	MaxConcurrentVideo int               `koanf:"max_concurrent_video" validate:"gte=0"`
	VoiceID            string            `koanf:"voice_id"`
	StorageStrategy    StorageStrategy   `koanf:"storage_strategy" validate:"oneof=filesystem object_store planning_db"`
	Branding           BrandingPaths     `koanf:"branding"`
	CredentialsEncrypted map[string]string `koanf:"credentials"`

	// credentials holds the decrypted plaintext, populated at load time and
	// never serialized or logged.
	credentials map[string]string
}

// Credential returns the decrypted value for a provider label. The second
// return value is false if the channel carries no credential under that
// label.
func (c Channel) Credential(provider string) (string, bool) {
	v, ok := c.credentials[provider]
	return v, ok
}

type snapshot struct {
	byID map[string]Channel
}

// Registry holds the current channel configuration snapshot. Zero value is
// not usable; construct with Load.
type Registry struct {
	path string
	v    *vault.Vault
	cur  atomic.Pointer[snapshot]
}

// Load reads channel configuration from path (YAML), overlays any
// ORCHESTRATOR_CHANNELS_* environment overrides, validates every channel, decrypts
// credentials eagerly using v, and returns a ready Registry.
func Load(path string, v *vault.Vault) (*Registry, error) {
	r := &Registry{path: path, v: v}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads configuration from disk and atomically replaces the
// published snapshot. Readers in flight against the old snapshot are
// unaffected; they simply observe stale data until their next lookup.
func (r *Registry) Reload() error {
	k := koanf.New(".")

	if _, err := os.Stat(r.path); err == nil {
		if err := k.Load(file.Provider(r.path), yaml.Parser()); err != nil {
			return fmt.Errorf("load channel config %s: %w", r.path, err)
		}
	}

	if err := k.Load(env.Provider("ORCHESTRATOR_CHANNELS_", ".", nil), nil); err != nil {
		return fmt.Errorf("load channel config env overrides: %w", err)
	}

	var raw struct {
		Channels []Channel `koanf:"channels"`
	}
	if err := k.Unmarshal("", &raw); err != nil {
		return fmt.Errorf("unmarshal channel config: %w", err)
	}

	byID := make(map[string]Channel, len(raw.Channels))
	for _, ch := range raw.Channels {
		if err := validateChannel(ch); err != nil {
			return err
		}

		decrypted := make(map[string]string, len(ch.CredentialsEncrypted))
		for provider, ciphertext := range ch.CredentialsEncrypted {
			plaintext, err := r.v.Open(ciphertext)
			if err != nil {
				return fmt.Errorf("decrypt credential %s/%s: %w", ch.ID, provider, err)
			}
			decrypted[provider] = plaintext
		}
		ch.credentials = decrypted

		if _, dup := byID[ch.ID]; dup {
			return &orcherr.ValidationError{Field: "channels.id", Reason: fmt.Sprintf("duplicate channel id %q", ch.ID)}
		}
		byID[ch.ID] = ch
	}

	r.cur.Store(&snapshot{byID: byID})
	return nil
}

// validateChannel runs struct-tag validation (required id, max_concurrent >= 1,
// max_concurrent_video >= 0, storage_strategy one of the known enum values) via
// the shared validator instance (§4.2, B1).
func validateChannel(ch Channel) error {
	if verrs := validation.ValidateStruct(&ch); verrs != nil {
		return &orcherr.ValidationError{Field: "channels", Reason: verrs.Error()}
	}
	return nil
}

// Get returns the channel with the given id. If no channel with that id
// exists in the current snapshot, ok is false — callers must treat this as
// non-retriable (§4.2).
func (r *Registry) Get(id string) (Channel, bool) {
	snap := r.cur.Load()
	if snap == nil {
		return Channel{}, false
	}
	ch, ok := snap.byID[id]
	return ch, ok
}

// Active returns every channel currently marked active, in no particular
// order. Callers needing deterministic ordering (e.g. the claim scheduler's
// round-robin tie-break) must sort by ID themselves.
func (r *Registry) Active() []Channel {
	snap := r.cur.Load()
	if snap == nil {
		return nil
	}
	out := make([]Channel, 0, len(snap.byID))
	for _, ch := range snap.byID {
		if ch.Active {
			out = append(out, ch)
		}
	}
	return out
}

// Len returns the number of channels in the current snapshot.
func (r *Registry) Len() int {
	snap := r.cur.Load()
	if snap == nil {
		return 0
	}
	return len(snap.byID)
}
