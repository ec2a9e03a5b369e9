package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/pkg/xattr"
)

// Extended attribute names autopkg writes on downloads.
const (
	AttrETag         = "com.github.autopkg.etag"
	AttrLastModified = "com.github.autopkg.last-modified"
)

// AttributeReader fetches the raw pieces of a fingerprint. A nil value with
// a nil error means the attribute is not present.
type AttributeReader interface {
	GetAttribute(ctx context.Context, path, name string) (*string, error)
	GetSize(ctx context.Context, path string) (*int64, error)
}

// AttributeWriter sets extended attributes.
type AttributeWriter interface {
	SetAttribute(ctx context.Context, path, name, value string) error
}

// XattrAttributes reads and writes real extended attributes.
type XattrAttributes struct{}

// GetAttribute implements AttributeReader.
func (XattrAttributes) GetAttribute(_ context.Context, path, name string) (*string, error) {
	data, err := xattr.Get(path, name)
	if err != nil {
		if isMissingAttr(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read attribute %s of %s: %w", name, path, err)
	}
	value := string(data)
	return &value, nil
}

// GetSize implements AttributeReader.
func (XattrAttributes) GetSize(_ context.Context, path string) (*int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	size := info.Size()
	return &size, nil
}

// SetAttribute implements AttributeWriter.
func (XattrAttributes) SetAttribute(_ context.Context, path, name, value string) error {
	if err := xattr.Set(path, name, []byte(value)); err != nil {
		return fmt.Errorf("failed to set attribute %s on %s: %w", name, path, err)
	}
	return nil
}

// isMissingAttr treats filesystems without xattr support like files
// without the attribute.
func isMissingAttr(err error) bool {
	var xerr *xattr.Error
	if errors.As(err, &xerr) {
		err = xerr.Err
	}
	return errors.Is(err, xattr.ENOATTR) || errors.Is(err, syscall.ENOTSUP)
}
