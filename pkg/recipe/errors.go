package recipe

import (
	"errors"
	"fmt"
)

// Sentinels matched by errors.Is against a *ContentsError.
var (
	ErrInvalidYAMLContents  = errors.New("invalid yaml contents")
	ErrInvalidPlistContents = errors.New("invalid plist contents")
)

// ErrNoReport is returned when a recipe runs before ReserveReport.
var ErrNoReport = errors.New("no report path reserved")

// LookupError is returned when no candidate file for a recipe name exists in
// any override or search directory.
type LookupError struct {
	Name string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("recipe not found: %s", e.Name)
}

// FormatError is returned for a recipe file whose extension is not one of
// .yaml, .plist or .recipe.
type FormatError struct {
	Extension string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unsupported recipe format: %q", e.Extension)
}

// ContentsError is returned when a recipe document cannot be decoded, or
// decodes without an Identifier.
type ContentsError struct {
	Format Format
	Path   string
	Err    error
}

func (e *ContentsError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.sentinel(), e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.sentinel(), e.Path)
}

func (e *ContentsError) Unwrap() error { return e.Err }

// Is matches the sentinel of the document's format.
func (e *ContentsError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *ContentsError) sentinel() error {
	if e.Format == FormatYAML {
		return ErrInvalidYAMLContents
	}
	return ErrInvalidPlistContents
}

// InputError is returned by accessors for a required Input key that the
// recipe does not define.
type InputError struct {
	Path string
	Key  string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("recipe %s has no %s input", e.Path, e.Key)
}
