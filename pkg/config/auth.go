package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Credential keys recognized in the auth file.
const (
	KeyPocketConsumerKey = "pocket_consumer_key"
	KeyPocketAccessToken = "pocket_access_token" //nolint:gosec // key name, not a credential
	KeyKarakeepToken     = "karakeep_token"
	KeyPocketBaseURL     = "pocket_base_url"
	KeyKarakeepBaseURL   = "karakeep_base_url"
)

// Auth is the flat JSON credentials file. Unknown keys survive a
// load-save round trip so other tools can share the file.
type Auth map[string]string

// LoadAuth reads credentials from a JSON file. A missing file is not an
// error, it yields an empty set.
func LoadAuth(path string) (Auth, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			return Auth{}, nil
		}
		return nil, fmt.Errorf("read auth file: %w", err)
	}

	var auth Auth
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("parse auth file: %w", err)
	}
	if auth == nil {
		auth = Auth{}
	}
	return auth, nil
}

// Save writes credentials back with owner-only permissions.
func (a Auth) Save(path string) error {
	data, err := json.MarshalIndent(a, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal auth: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write auth file: %w", err)
	}
	return nil
}

// Require returns the named credential or an error telling the user how
// to obtain it.
func (a Auth) Require(key string) (string, error) {
	if v := a[key]; v != "" {
		return v, nil
	}
	return "", fmt.Errorf("missing %q in auth file, run the auth command first", key)
}

// Get returns the named credential or fallback when it is absent.
func (a Auth) Get(key, fallback string) string {
	if v := a[key]; v != "" {
		return v
	}
	return fallback
}
