// ABOUTME: Persisted storage locations with a versioned decode strategy
// ABOUTME: Reads the current v2 document or the legacy name->uri object and always writes v2

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// LocationsVersion is the schema version written by EncodeLocations.
const LocationsVersion = 2

// ErrUnknownLocationsFormat is returned when stored data matches no known schema.
var ErrUnknownLocationsFormat = errors.New("unrecognized storage locations format")

// StorageLocation is a document tree root the device exposes to tools.
type StorageLocation struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URI         string `json:"uri"`
	AllowWrite  bool   `json:"allow_write"`
	AllowDelete bool   `json:"allow_delete"`
}

// locationsDocument is the v2 on-disk shape.
type locationsDocument struct {
	Version   int               `json:"version"`
	Locations []json.RawMessage `json:"locations"`
}

// locationDecoder turns stored bytes into locations. ok is false when the
// bytes are not in the decoder's schema at all.
type locationDecoder struct {
	name   string
	decode func(data []byte, logger *slog.Logger) (locs []StorageLocation, ok bool)
}

var locationDecoders = []locationDecoder{
	{name: "v2", decode: decodeLocationsV2},
	{name: "v1", decode: decodeLocationsV1},
}

// DecodeLocations decodes stored storage locations, trying the current schema
// first and then the legacy one. Malformed entries are skipped and logged.
// Empty input decodes to no locations.
func DecodeLocations(data []byte, logger *slog.Logger) ([]StorageLocation, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	for _, d := range locationDecoders {
		locs, ok := d.decode(data, logger)
		if ok {
			logger.Debug("decoded storage locations", "schema", d.name, "count", len(locs))
			return locs, nil
		}
	}
	return nil, ErrUnknownLocationsFormat
}

// decodeLocationsV2 reads {"version":2,"locations":[...]}.
func decodeLocationsV2(data []byte, logger *slog.Logger) ([]StorageLocation, bool) {
	var doc locationsDocument
	if err := json.Unmarshal(data, &doc); err != nil || doc.Version != LocationsVersion {
		return nil, false
	}

	locs := make([]StorageLocation, 0, len(doc.Locations))
	seen := make(map[string]bool)
	for i, raw := range doc.Locations {
		var loc StorageLocation
		if err := json.Unmarshal(raw, &loc); err != nil {
			logger.Warn("skipping malformed storage location", "index", i, "error", err)
			continue
		}
		if err := validateLocation(loc); err != nil {
			logger.Warn("skipping invalid storage location", "index", i, "error", err)
			continue
		}
		if seen[loc.ID] {
			logger.Warn("skipping duplicate storage location", "index", i, "id", loc.ID)
			continue
		}
		seen[loc.ID] = true
		locs = append(locs, loc)
	}
	return locs, true
}

// decodeLocationsV1 reads the legacy {"<name>": "<uri>"} object. Legacy
// entries were read-only and had no ids, so ids are derived from the uri.
func decodeLocationsV1(data []byte, logger *slog.Logger) ([]StorageLocation, bool) {
	var legacy map[string]json.RawMessage
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, false
	}
	// A v2 document with another version number also unmarshals as an object.
	if _, hasVersion := legacy["version"]; hasVersion {
		if _, hasLocations := legacy["locations"]; hasLocations {
			return nil, false
		}
	}

	names := sortedKeys(legacy)
	locs := make([]StorageLocation, 0, len(names))
	for _, name := range names {
		var uri string
		if err := json.Unmarshal(legacy[name], &uri); err != nil {
			logger.Warn("skipping malformed legacy storage location", "name", name, "error", err)
			continue
		}
		loc := StorageLocation{
			ID:   legacyLocationID(uri),
			Name: name,
			URI:  uri,
		}
		if err := validateLocation(loc); err != nil {
			logger.Warn("skipping invalid legacy storage location", "name", name, "error", err)
			continue
		}
		locs = append(locs, loc)
	}
	return locs, true
}

// legacyLocationID derives a stable id for a legacy entry.
func legacyLocationID(uri string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(uri)).String()
}

func validateLocation(loc StorageLocation) error {
	if strings.TrimSpace(loc.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(loc.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(loc.URI) == "" {
		return errors.New("uri is required")
	}
	return nil
}

// EncodeLocations encodes locations in the current schema.
func EncodeLocations(locs []StorageLocation) ([]byte, error) {
	doc := struct {
		Version   int               `json:"version"`
		Locations []StorageLocation `json:"locations"`
	}{Version: LocationsVersion, Locations: locs}
	if doc.Locations == nil {
		doc.Locations = []StorageLocation{}
	}
	return json.Marshal(doc)
}

// NewStorageLocation builds a location with a fresh id.
func NewStorageLocation(name, uri string, allowWrite, allowDelete bool) StorageLocation {
	return StorageLocation{
		ID:          uuid.New().String(),
		Name:        name,
		URI:         uri,
		AllowWrite:  allowWrite,
		AllowDelete: allowDelete,
	}
}

// LoadLocations reads storage locations from a settings store. A missing
// setting yields no locations. Legacy data is rewritten in the current schema.
func LoadLocations(ctx context.Context, s SettingsStore, logger *slog.Logger) ([]StorageLocation, error) {
	if logger == nil {
		logger = slog.Default()
	}
	raw, err := s.GetSetting(ctx, KeyStorageLocations)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading storage locations: %w", err)
	}

	locs, err := DecodeLocations([]byte(raw), logger)
	if err != nil {
		return nil, err
	}

	if !isCurrentLocations([]byte(raw)) {
		if err := SaveLocations(ctx, s, locs); err != nil {
			logger.Warn("failed to migrate storage locations", "error", err)
		} else {
			logger.Info("migrated storage locations", "count", len(locs), "version", LocationsVersion)
		}
	}
	return locs, nil
}

// SaveLocations writes locations in the current schema.
func SaveLocations(ctx context.Context, s SettingsStore, locs []StorageLocation) error {
	data, err := EncodeLocations(locs)
	if err != nil {
		return fmt.Errorf("encoding storage locations: %w", err)
	}
	if err := s.SetSetting(ctx, KeyStorageLocations, string(data)); err != nil {
		return fmt.Errorf("saving storage locations: %w", err)
	}
	return nil
}

func isCurrentLocations(data []byte) bool {
	var header struct {
		Version int `json:"version"`
	}
	return json.Unmarshal(data, &header) == nil && header.Version == LocationsVersion
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
