// Package ordindex locates and walks a foreign ordered map: a
// balanced binary search tree keyed by record identity, living in the
// host's own heap.
//
// Nothing about the container is declared to us - its location is
// discovered heuristically and its node layout comes from a layout
// profile. Discovery is a two-phase search: first the code of a known
// host function is decoded looking for absolute direct-memory
// operands, then (failing that) writable data regions are swept for
// byte windows that look like a container header. Candidates are
// accepted only after structural validation that walks a small sample
// of nodes.
//
// Once confirmed, a full in-order traversal rebuilds the address
// cache in O(n) and point lookup descends from the root in O(log n).
// Every read goes through the safe memory accessor; any read failure,
// invariant violation, or iteration-bound overrun makes the operation
// report failure rather than present partial results as complete.
package ordindex
