// Package simpleupload tracks resumable uploads driven by tusd lifecycle hooks.
//
// A Service receives one Event per hook call (pre-create, post-create,
// post-receive, pre-finish, post-finish, post-terminate) and advances a
// FileObject record in the ledger Repository. On pre-create it validates the
// upload against a Policy, reclaims incomplete uploads that occupy the same
// (submission, filename) slot, and returns the storage key the proxy should
// write to. Blob content is only touched through the BlobStore interface during
// reclaim, terminate and explicit deletion.
//
// Ledger implementations (memory, Postgres) live under repo/, blob stores
// (memory, filesystem, S3) under storage/.
//
// Upload states
//
// A FileObject is either Initiated or Completed. The ledger persists the state
// as the all_parts_received flag. Once Completed, hook handlers never write to
// the row again; only explicit deletion removes it.
package simpleupload
