// Package stores provides persistence for the download metadata cache.
//
// Every backend stores one metadata.RecipeCache per recipe name with
// overwrite semantics and serializes its own writes, so concurrently
// running recipes may save through a shared store. Backends:
//
//   - JSONFileStore: a single JSON document on local disk (the default)
//   - SQLiteStore: modernc SQLite with embedded golang-migrate migrations
//   - S3Store and GCSStore: the JSON document kept as one object
//   - RedisStore: one hash field per recipe
package stores
