// ABOUTME: Storage pack exposing the persisted storage locations as tools
// ABOUTME: Mutating tools share a lock so read-modify-write cycles never interleave

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/beacon/internal/store"
	"github.com/2389/beacon/internal/tools"
)

// StoragePack creates the storage pack backed by s.
func StoragePack(s store.SettingsStore, logger *slog.Logger) *Pack {
	if logger == nil {
		logger = slog.Default()
	}
	h := &storageHandlers{store: s, logger: logger.With("component", "builtins.storage")}
	return &Pack{
		ID: "builtin:storage",
		Tools: []Tool{
			newTool(mcp.NewTool("list_storage_locations",
				mcp.WithDescription("List the storage locations this server can read from or write to."),
				mcp.WithBoolean("writable_only", mcp.Description("Only return locations that allow writes (default: false)")),
			), tools.CapabilityFunc(h.List)),
			newTool(mcp.NewTool("add_storage_location",
				mcp.WithDescription("Add a storage location."),
				mcp.WithString("name", mcp.Required(), mcp.Description("Display name")),
				mcp.WithString("uri", mcp.Required(), mcp.Description("Location URI, e.g. file:///Users/me/Documents")),
				mcp.WithBoolean("allow_write", mcp.Description("Allow writing files (default: false)")),
				mcp.WithBoolean("allow_delete", mcp.Description("Allow deleting files (default: false)")),
			), tools.CapabilityFunc(h.Add)),
			newTool(mcp.NewTool("remove_storage_location",
				mcp.WithDescription("Remove a storage location by id."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Location id from list_storage_locations")),
			), tools.CapabilityFunc(h.Remove)),
		},
	}
}

type storageHandlers struct {
	store  store.SettingsStore
	logger *slog.Logger

	// writeMu serializes add and remove.
	writeMu sync.Mutex
}

type listLocationsInput struct {
	WritableOnly bool `json:"writable_only"`
}

type locationsOutput struct {
	Locations []store.StorageLocation `json:"locations"`
	Count     int                     `json:"count"`
}

func (h *storageHandlers) List(ctx context.Context, params json.RawMessage) (any, error) {
	var in listLocationsInput
	if err := tools.DecodeParams(params, &in); err != nil {
		return nil, err
	}

	locs, err := store.LoadLocations(ctx, h.store, h.logger)
	if err != nil {
		return nil, tools.Wrap(tools.KindActionFailed, "loading storage locations", err)
	}

	out := locationsOutput{Locations: []store.StorageLocation{}}
	for _, loc := range locs {
		if in.WritableOnly && !loc.AllowWrite {
			continue
		}
		out.Locations = append(out.Locations, loc)
	}
	out.Count = len(out.Locations)
	return out, nil
}

type addLocationInput struct {
	Name        string `json:"name"`
	URI         string `json:"uri"`
	AllowWrite  bool   `json:"allow_write"`
	AllowDelete bool   `json:"allow_delete"`
}

func (h *storageHandlers) Add(ctx context.Context, params json.RawMessage) (any, error) {
	var in addLocationInput
	if err := tools.DecodeParams(params, &in); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.URI = strings.TrimSpace(in.URI)
	if in.Name == "" || in.URI == "" {
		return nil, tools.InvalidParams("name and uri are required")
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	locs, err := store.LoadLocations(ctx, h.store, h.logger)
	if err != nil {
		return nil, tools.Wrap(tools.KindActionFailed, "loading storage locations", err)
	}
	for _, loc := range locs {
		if loc.URI == in.URI {
			return nil, tools.Errorf(tools.KindActionFailed, "location %q already uses %s", loc.Name, in.URI)
		}
	}

	loc := store.NewStorageLocation(in.Name, in.URI, in.AllowWrite, in.AllowDelete)
	if err := store.SaveLocations(ctx, h.store, append(locs, loc)); err != nil {
		return nil, tools.Wrap(tools.KindActionFailed, "saving storage locations", err)
	}
	h.logger.Info("storage location added", "id", loc.ID, "name", loc.Name)
	return loc, nil
}

type removeLocationInput struct {
	ID string `json:"id"`
}

func (h *storageHandlers) Remove(ctx context.Context, params json.RawMessage) (any, error) {
	var in removeLocationInput
	if err := tools.DecodeParams(params, &in); err != nil {
		return nil, err
	}
	if in.ID == "" {
		return nil, tools.InvalidParams("id is required")
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	locs, err := store.LoadLocations(ctx, h.store, h.logger)
	if err != nil {
		return nil, tools.Wrap(tools.KindActionFailed, "loading storage locations", err)
	}

	kept := make([]store.StorageLocation, 0, len(locs))
	for _, loc := range locs {
		if loc.ID != in.ID {
			kept = append(kept, loc)
		}
	}
	if len(kept) == len(locs) {
		return nil, tools.ElementNotFound(fmt.Sprintf("no storage location with id %s", in.ID))
	}

	if err := store.SaveLocations(ctx, h.store, kept); err != nil {
		return nil, tools.Wrap(tools.KindActionFailed, "saving storage locations", err)
	}
	h.logger.Info("storage location removed", "id", in.ID)
	return map[string]any{"removed": in.ID, "count": len(kept)}, nil
}
