package autopkg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"
)

// DefaultPrefsPath is where AutoPkg keeps its preferences on macOS.
const DefaultPrefsPath = "~/Library/Preferences/com.github.autopkg.plist"

// Preference keys with typed accessors.
const (
	KeyCacheDir                    = "CACHE_DIR"
	KeyRecipeSearchDirs            = "RECIPE_SEARCH_DIRS"
	KeyRecipeOverrideDirs          = "RECIPE_OVERRIDE_DIRS"
	KeyRecipeRepoDir               = "RECIPE_REPO_DIR"
	KeyMunkiRepo                   = "MUNKI_REPO"
	KeyFailRecipesWithoutTrustInfo = "FAIL_RECIPES_WITHOUT_TRUST_INFO"
)

// Prefs holds AutoPkg preferences with defaults applied and paths expanded.
type Prefs struct {
	values map[string]interface{}
}

// DefaultPrefs returns the preferences AutoPkg uses when no plist exists.
func DefaultPrefs() *Prefs {
	return &Prefs{values: map[string]interface{}{
		KeyCacheDir: ExpandHome("~/Library/AutoPkg/Cache"),
		KeyRecipeSearchDirs: []string{
			".",
			ExpandHome("~/Library/AutoPkg/Recipes"),
			"/Library/AutoPkg/Recipes",
		},
		KeyRecipeOverrideDirs: []string{ExpandHome("~/Library/AutoPkg/RecipeOverrides")},
		KeyRecipeRepoDir:      ExpandHome("~/Library/AutoPkg/RecipeRepos"),
	}}
}

// LoadPrefs reads an AutoPkg preferences plist over the defaults. An empty
// path means DefaultPrefsPath, which may be absent; an explicit path must exist.
func LoadPrefs(path string) (*Prefs, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPrefsPath
	}
	path = ExpandHome(path)

	prefs := DefaultPrefs()

	data, err := os.ReadFile(path) // #nosec G304 -- preferences path is operator supplied
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return prefs, nil
		}
		return nil, fmt.Errorf("failed to read autopkg preferences: %w", err)
	}

	var raw map[string]interface{}
	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse autopkg preferences %s: %w", path, err)
	}

	for key, value := range raw {
		switch key {
		case KeyCacheDir, KeyRecipeRepoDir, KeyMunkiRepo:
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("preference %s must be a string, got %T", key, value)
			}
			prefs.values[key] = ExpandHome(s)
		case KeyRecipeSearchDirs, KeyRecipeOverrideDirs:
			dirs, err := toPathList(value)
			if err != nil {
				return nil, fmt.Errorf("preference %s: %w", key, err)
			}
			prefs.values[key] = dirs
		default:
			prefs.values[key] = value
		}
	}

	return prefs, nil
}

// toPathList accepts a single string or an array of strings.
func toPathList(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case string:
		return []string{ExpandHome(v)}, nil
	case []string:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, ExpandHome(item))
		}
		return out, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string entries, got %T", item)
			}
			out = append(out, ExpandHome(s))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or array, got %T", value)
	}
}

// Get returns the raw value of any preference key.
func (p *Prefs) Get(key string) (interface{}, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Set overrides a preference for the lifetime of this value. Directory list
// keys accept the same string-or-array forms as the preferences file.
func (p *Prefs) Set(key string, value interface{}) error {
	switch key {
	case KeyRecipeSearchDirs, KeyRecipeOverrideDirs:
		dirs, err := toPathList(value)
		if err != nil {
			return fmt.Errorf("preference %s: %w", key, err)
		}
		value = dirs
	}
	p.values[key] = value
	return nil
}

func (p *Prefs) CacheDir() string      { return p.str(KeyCacheDir) }
func (p *Prefs) RecipeRepoDir() string { return p.str(KeyRecipeRepoDir) }

// MunkiRepo returns the munki repository path, or "" when unset.
func (p *Prefs) MunkiRepo() string { return p.str(KeyMunkiRepo) }

// RecipeSearchDirs returns the configured search directories in order.
func (p *Prefs) RecipeSearchDirs() []string { return p.list(KeyRecipeSearchDirs) }

// RecipeOverrideDirs returns the configured override directories in order.
func (p *Prefs) RecipeOverrideDirs() []string { return p.list(KeyRecipeOverrideDirs) }

// FailRecipesWithoutTrustInfo reports whether untrusted recipes must not run.
func (p *Prefs) FailRecipesWithoutTrustInfo() bool {
	switch v := p.values[KeyFailRecipesWithoutTrustInfo].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	case uint64:
		return v != 0
	case int64:
		return v != 0
	default:
		return false
	}
}

func (p *Prefs) str(key string) string {
	s, _ := p.values[key].(string)
	return s
}

func (p *Prefs) list(key string) []string {
	l, _ := p.values[key].([]string)
	return append([]string(nil), l...)
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
