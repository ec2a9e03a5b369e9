package recipe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
	"howett.net/plist"
)

// Format is the on-disk encoding of a recipe.
type Format string

const (
	// FormatYAML is a .recipe.yaml document.
	FormatYAML Format = "yaml"

	// FormatPlist is an XML or binary property list (.recipe, .recipe.plist).
	FormatPlist Format = "plist"
)

// String returns the format name.
func (f Format) String() string { return string(f) }

// Contents is the decoded recipe document. Process steps are opaque here and
// only consumed by autopkg.
type Contents struct {
	Description    string                   `yaml:"Description" plist:"Description" json:"description,omitempty"`
	Identifier     string                   `yaml:"Identifier" plist:"Identifier" json:"identifier"`
	Input          map[string]interface{}   `yaml:"Input" plist:"Input" json:"input,omitempty"`
	MinimumVersion string                   `yaml:"MinimumVersion" plist:"MinimumVersion" json:"minimum_version,omitempty"`
	ParentRecipe   string                   `yaml:"ParentRecipe" plist:"ParentRecipe" json:"parent_recipe,omitempty"`
	Process        []map[string]interface{} `yaml:"Process" plist:"Process" json:"process,omitempty"`
}

// DetectFormat maps a recipe path's final extension to its Format.
func DetectFormat(path string) (Format, error) {
	switch ext := filepath.Ext(path); ext {
	case ".yaml":
		return FormatYAML, nil
	case ".plist", ".recipe":
		return FormatPlist, nil
	default:
		return "", &FormatError{Extension: ext}
	}
}

// Parse reads and decodes the recipe at path.
func Parse(path string) (Contents, Format, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return Contents{}, "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Contents{}, format, fmt.Errorf("failed to read recipe %s: %w", path, err)
	}

	contents, err := Decode(data, format)
	if err != nil {
		return Contents{}, format, &ContentsError{Format: format, Path: path, Err: err}
	}
	return contents, format, nil
}

// Decode decodes a recipe document of the given format. The document must
// declare an Identifier.
func Decode(data []byte, format Format) (Contents, error) {
	var contents Contents

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &contents); err != nil {
			return Contents{}, err
		}
	case FormatPlist:
		plistFormat, err := plist.Unmarshal(data, &contents)
		if err != nil {
			return Contents{}, err
		}
		if plistFormat == plist.OpenStepFormat || plistFormat == plist.GNUStepFormat {
			return Contents{}, errors.New("text property lists are not supported")
		}
	default:
		return Contents{}, fmt.Errorf("unknown format %q", format)
	}

	if contents.Identifier == "" {
		return Contents{}, errors.New("missing Identifier")
	}
	if contents.Input == nil {
		contents.Input = map[string]interface{}{}
	}
	return contents, nil
}
