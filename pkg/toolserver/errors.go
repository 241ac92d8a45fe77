package toolserver

import "errors"

var (
	// ErrToolNotFound is reported for a tool name outside the catalog.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolArgumentInvalid is reported for a missing required argument or
	// an argument of the wrong type.
	ErrToolArgumentInvalid = errors.New("invalid tool argument")

	// ErrResourceSchemeUnknown is returned by ReadResource for URIs outside
	// knowledge://search and financial://data.
	ErrResourceSchemeUnknown = errors.New("unknown resource scheme")
)
