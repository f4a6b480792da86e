package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"

	"github.com/BurntSushi/toml"
)

// LoadAllowList reads regexes from a gitleaks-style TOML file:
//
//	[allowlist]
//	regexes = ['''^changeme$''']
//
// A missing file yields no patterns. Every pattern must compile.
func LoadAllowList(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	var doc struct {
		Allowlist struct {
			Regexes []string `toml:"regexes"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("invalid allowlist %s: %w", path, err)
	}
	for _, p := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("invalid allowlist %s: pattern %q: %w", path, p, err)
		}
	}
	return doc.Allowlist.Regexes, nil
}
