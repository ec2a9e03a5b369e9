// Package metadata models the download fingerprints kept in the metadata
// cache and collects them from freshly downloaded artifacts.
//
// A fingerprint is the tuple (etag, size, last-modified). autopkg stores
// the HTTP validators as extended attributes on each download, so the
// collector reads com.github.autopkg.etag and
// com.github.autopkg.last-modified alongside the file size.
package metadata
