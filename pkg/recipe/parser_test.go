package recipe

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantExt string
	}{
		{path: "Foo.recipe.yaml", want: FormatYAML},
		{path: "Foo.recipe.plist", want: FormatPlist},
		{path: "Foo.recipe", want: FormatPlist},
		{path: "Foo.recipe.json", wantExt: ".json"},
		{path: "Foo", wantExt: ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := DetectFormat(tt.path)
			if tt.want != "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}
			var formatErr *FormatError
			require.ErrorAs(t, err, &formatErr)
			assert.Equal(t, tt.wantExt, formatErr.Extension)
		})
	}
}

func TestParseValid(t *testing.T) {
	dir := t.TempDir()

	contents, format, err := Parse(writeFile(t, dir, "Foo.recipe.yaml", fooYAML))
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, format)
	assert.Equal(t, "com.example.download.Foo", contents.Identifier)

	contents, format, err = Parse(writeFile(t, dir, "Bar.recipe.plist", barPlist))
	require.NoError(t, err)
	assert.Equal(t, FormatPlist, format)
	assert.Equal(t, "com.example.download.Bar", contents.Identifier)
	assert.Equal(t, "Bar", contents.Input["NAME"])
}

func TestParseInvalidContents(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		file     string
		body     string
		sentinel error
	}{
		{
			name:     "malformed yaml",
			file:     "Bad.recipe.yaml",
			body:     "Identifier: [unclosed\n",
			sentinel: ErrInvalidYAMLContents,
		},
		{
			name:     "yaml without identifier",
			file:     "NoID.recipe.yaml",
			body:     "Description: nothing here\n",
			sentinel: ErrInvalidYAMLContents,
		},
		{
			name:     "empty yaml",
			file:     "Empty.recipe.yaml",
			body:     "",
			sentinel: ErrInvalidYAMLContents,
		},
		{
			name:     "malformed xml plist",
			file:     "Bad.recipe",
			body:     `<?xml version="1.0"?><plist version="1.0"><dict><key>Identifier</key></plist>`,
			sentinel: ErrInvalidPlistContents,
		},
		{
			name:     "plist without identifier",
			file:     "NoID.recipe.plist",
			body:     `<?xml version="1.0"?><plist version="1.0"><dict><key>Description</key><string>x</string></dict></plist>`,
			sentinel: ErrInvalidPlistContents,
		},
		{
			name:     "openstep plist",
			file:     "Text.recipe",
			body:     `{ Identifier = "com.example.Text"; }`,
			sentinel: ErrInvalidPlistContents,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.body)
			_, _, err := Parse(path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)

			var contentsErr *ContentsError
			require.ErrorAs(t, err, &contentsErr)
			assert.Equal(t, path, contentsErr.Path)
		})
	}
}

func TestContentsErrorDoesNotMatchOtherFormat(t *testing.T) {
	err := &ContentsError{Format: FormatYAML, Path: "x"}
	assert.ErrorIs(t, err, ErrInvalidYAMLContents)
	assert.NotErrorIs(t, err, ErrInvalidPlistContents)
}
