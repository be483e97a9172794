// Package directory defines the flat file namespace a search engine writes
// its index segments into, and FSDirectory, its local-disk implementation.
//
// Files are written once through an IndexOutput, synced, and from then on
// only read. Readers hold IndexInput handles; every handle has its own
// cursor and Clone produces independent handles over the same bytes.
package directory
