// Package tools provides the capability registry behind tools/list and tools/call.
//
// # Overview
//
// A tool is a named operation with a JSON Schema describing its arguments and a
// Capability that executes it. The embedding application registers one Capability
// per device operation (accessibility queries, gestures, screenshots, file access)
// and the protocol layer dispatches calls by name.
//
// # Registry
//
// The Registry keeps tools in registration order so tools/list is stable across
// calls. Lookups are map-backed. Registering a name twice fails with ErrToolExists
// and the first registration stays in place.
//
//	reg := tools.NewRegistry(logger)
//	err := reg.Register(tools.Definition{
//	    Name:        "take_screenshot",
//	    Description: "Capture the current screen",
//	}, screenshotCapability)
//
// # Failures
//
// Capabilities report failures with *Error values carrying a Kind:
//
//	KindInvalidParams     arguments did not match the schema
//	KindPermissionDenied  the device refused the operation
//	KindElementNotFound   the targeted UI element does not exist
//	KindActionFailed      the operation ran and failed
//	KindTimeout           the operation did not finish in time
//	KindInternal          anything else
//
// Untyped errors are treated as KindInternal by the protocol layer.
//
// # Concurrency
//
// Calls to the same tool may run concurrently. Wrap a Capability with Exclusive
// when the underlying device operation cannot overlap with itself.
package tools
