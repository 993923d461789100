// Package graph serves the road network from its on-disk binary layout.
//
// Nodes live in a flat file of 16-byte little-endian records ([lat][lon],
// both float64); a node's ID is its record index. Adjacency is stored in
// Compressed Sparse Row form: graph.offset holds nodeCount+1 uint32 values
// and node u's neighbours are graph.targets[offset[u]:offset[u+1]] (int32).
//
// Every file can be served through one of three interchangeable strategies
// (see Strategy). They differ only in resident memory and per-query cost;
// results are identical.
//
// Stores degrade instead of failing: Open* returns ErrMissingFile or
// ErrCorruptFile together with a nil store, and every method on a nil store
// returns empty results. Callers log the error and keep serving.
package graph
