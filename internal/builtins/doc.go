// Package builtins provides the tools beacon registers out of the box.
//
// # Overview
//
// Built-in tools report on the server itself. They read state from the
// components that own it and never change tunnel or certificate state.
//
// # Tool Packs
//
// Server Pack (builtin:server):
//
//   - get_server_info: Name, version, uptime, TLS and auth mode, tool count
//   - get_tunnel_status: Current tunnel state, provider and public URL
//   - get_certificate_info: Active certificate hostname, validity and fingerprint
//
// Storage Pack (builtin:storage):
//
//   - list_storage_locations: Configured storage locations
//   - add_storage_location: Add a location by name and URI
//   - remove_storage_location: Remove a location by id
//
// # Schemas
//
// Input schemas are built with mcp-go's tool options and advertised as raw
// JSON through tools/list.
//
// # Usage
//
//	reg := tools.NewRegistry(logger)
//	if err := builtins.Register(reg, builtins.ServerPack(deps), builtins.StoragePack(settings, logger)); err != nil {
//	    return err
//	}
package builtins
