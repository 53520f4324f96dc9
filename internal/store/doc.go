// Package store provides persistent settings for beacon using SQLite.
//
// # Architecture
//
// SettingsStore is a small key/value interface. SQLiteStore implements it on
// modernc.org/sqlite (pure Go, no CGO) with WAL mode enabled; MemoryStore
// implements it for tests.
//
// Other packages keep their state in well-known keys:
//
//   - auth.token: generated bearer token when none is configured
//   - auth.jwt_secret: signing secret for JWT mode
//   - tls.keystore_password: password for the self-signed keystore
//   - tls.custom_password: password for an imported keystore
//   - storage.locations: exposed document tree roots
//
// # Storage Locations
//
// Storage locations have two historical encodings. DecodeLocations tries the
// current schema first:
//
//	{"version":2,"locations":[{"id":"...","name":"Docs","uri":"content://...","allow_write":true,"allow_delete":false}]}
//
// and then the legacy one, a plain object mapping names to uris:
//
//	{"Docs":"content://..."}
//
// Malformed entries are skipped and logged rather than failing the decode.
// LoadLocations rewrites legacy data in the current schema.
package store
