// Package tracker records, per file name, which storage tier currently
// backs a file and whether it is read whole or block by block.
//
// Each entry is an immutable FileTrackingInfo value replaced by
// compare-and-swap, so updates to different names never contend and
// readers never block.
package tracker
