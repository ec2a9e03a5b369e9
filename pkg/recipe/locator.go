package recipe

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/cloudautopkg/runner/pkg/autopkg"
)

// Extensions lists the recognized recipe file extensions in lookup order.
var Extensions = []string{".recipe", ".recipe.plist", ".recipe.yaml"}

// errFound stops a directory walk at the first match.
var errFound = errors.New("found")

// Locator resolves recipe names to files.
type Locator struct {
	// OverrideDirs are searched before SearchDirs.
	OverrideDirs []string
	SearchDirs   []string
}

// NewLocator returns a Locator over the directories configured in prefs.
func NewLocator(prefs *autopkg.Prefs) *Locator {
	return &Locator{
		OverrideDirs: prefs.RecipeOverrideDirs(),
		SearchDirs:   prefs.RecipeSearchDirs(),
	}
}

// PossibleFileNames returns the file names that may hold the recipe name. A
// name that already carries a recipe extension is only looked up literally.
func PossibleFileNames(name string) []string {
	for _, ext := range Extensions {
		if strings.HasSuffix(name, ext) {
			return []string{name}
		}
	}
	names := make([]string, 0, len(Extensions))
	for _, ext := range Extensions {
		names = append(names, name+ext)
	}
	return names
}

// Find returns the first file matching name. Directories are tried in order,
// override directories first; within a directory each candidate file name is
// searched for recursively before the next one is tried.
func (l *Locator) Find(name string) (string, error) {
	candidates := PossibleFileNames(name)

	dirs := make([]string, 0, len(l.OverrideDirs)+len(l.SearchDirs))
	dirs = append(dirs, l.OverrideDirs...)
	dirs = append(dirs, l.SearchDirs...)

	for _, dir := range dirs {
		dir = autopkg.ExpandHome(dir)
		for _, candidate := range candidates {
			if path, ok := findRecursive(dir, candidate); ok {
				return path, nil
			}
		}
	}

	return "", &LookupError{Name: name}
}

// findRecursive walks root in lexical order looking for a regular file
// called fileName. Unreadable or missing directories are skipped.
func findRecursive(root, fileName string) (string, bool) {
	var match string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || d.Name() != fileName {
			return nil
		}
		match = path
		return errFound
	})
	if errors.Is(err, errFound) {
		return match, true
	}
	return "", false
}
