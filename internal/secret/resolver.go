// Copyright Contributors to the Sykli project

// Package secret resolves task-requested secret names to values: a
// typed secret_ref takes precedence, then the task's execution target
// is asked via its Secrets capability, and finally the bare name is
// looked up in the engine's own process environment.
package secret

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yairfalse/sykli/internal/pipeline"
	"github.com/yairfalse/sykli/internal/target"
)

// ErrUnavailable is returned when no source could resolve a requested
// secret, distinct from other resolution errors so the scheduler can
// report it as the typed "secret_unavailable" failure.
type ErrUnavailable struct {
	Name string
}

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("secret %q unavailable from any configured source", e.Name)
}

// Resolver resolves secret names for a single task, trying typed
// secret_refs first, then the target's native store, then the bare
// process environment.
type Resolver struct {
	Vault *VaultClient
}

// New returns a Resolver. vault may be nil if no vault address is configured.
func New(vault *VaultClient) *Resolver {
	return &Resolver{Vault: vault}
}

// Resolve resolves every name in names, consulting refs for any typed
// override and drv for a target-native store, returning a map of
// name -> value. A single unresolved secret aborts the whole
// resolution: a missing secret fails the task before its command
// ever executes.
func (r *Resolver) Resolve(ctx context.Context, names []string, refs map[string]pipeline.SecretRef, drv target.Driver) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		v, err := r.resolveOne(ctx, name, refs, drv)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func (r *Resolver) resolveOne(ctx context.Context, name string, refs map[string]pipeline.SecretRef, drv target.Driver) (string, error) {
	if ref, ok := refs[name]; ok {
		v, err := r.resolveTyped(ctx, ref)
		if err == nil {
			return v, nil
		}
	}

	if secrets, ok := target.HasSecrets(drv); ok {
		v, err := secrets.ResolveSecret(ctx, name)
		if err == nil {
			return v, nil
		}
	}

	if v, ok := os.LookupEnv(name); ok {
		return v, nil
	}

	return "", &ErrUnavailable{Name: name}
}

func (r *Resolver) resolveTyped(ctx context.Context, ref pipeline.SecretRef) (string, error) {
	switch ref.Source {
	case "env":
		if v, ok := os.LookupEnv(ref.Key); ok {
			return v, nil
		}
		return "", &ErrUnavailable{Name: ref.Name}
	case "file":
		data, err := os.ReadFile(ref.Key)
		if err != nil {
			return "", fmt.Errorf("secret_ref %q: read file: %w", ref.Name, err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	case "vault":
		if r.Vault == nil {
			return "", fmt.Errorf("secret_ref %q: vault source configured but no vault client available", ref.Name)
		}
		return r.Vault.Read(ctx, ref.Key)
	default:
		return "", fmt.Errorf("secret_ref %q: unknown source %q", ref.Name, ref.Source)
	}
}

// VaultClient is a minimal client for Vault's KV-v2 HTTP API. No
// official Go SDK appears among the retrieved example repos, so this
// talks to Vault directly over net/http rather than pulling in an
// otherwise-unused dependency.
type VaultClient struct {
	Addr       string
	Token      string
	HTTPClient *http.Client
}

// NewVaultClient returns a VaultClient for addr, authenticating with token.
func NewVaultClient(addr, token string) *VaultClient {
	return &VaultClient{
		Addr:       strings.TrimRight(addr, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Read fetches a single key from a KV-v2 path of the form
// "mount/path#field" (field defaults to "value" if omitted).
func (c *VaultClient) Read(ctx context.Context, path string) (string, error) {
	mountPath, field, _ := strings.Cut(path, "#")
	if field == "" {
		field = "value"
	}

	url := fmt.Sprintf("%s/v1/%s", c.Addr, kvDataPath(mountPath))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Vault-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("vault: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("vault: %s returned %d: %s", url, resp.StatusCode, string(body))
	}

	var parsed struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("vault: decode response: %w", err)
	}

	v, ok := parsed.Data.Data[field]
	if !ok {
		return "", fmt.Errorf("vault: field %q not present at %q", field, mountPath)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("vault: field %q at %q is not a string", field, mountPath)
	}
	return s, nil
}

// kvDataPath inserts KV-v2's "data" segment after the mount: a path
// like "secret/ci/github" becomes "secret/data/ci/github".
func kvDataPath(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if len(parts) != 2 {
		return path
	}
	return parts[0] + "/data/" + parts[1]
}
