// Package graph implements the canonical graph schema compiler (C1): it
// turns an arbitrary, loosely-shaped user draft (recovered from local
// storage, imported JSON, or an API payload) into the canonical
// domain.Graph every other component operates on.
package graph

// RawNode is an untyped node as received from any upstream source. Keys are
// whatever the caller sent; Normalize tolerates absence of any of them.
type RawNode map[string]any

// RawEdge is an untyped edge as received from any upstream source.
type RawEdge map[string]any

// RawGraph is the uncanonicalized draft handed to Normalize.
type RawGraph struct {
	Nodes []RawNode
	Edges []RawEdge
}
