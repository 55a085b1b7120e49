/*
Package filestore stores release files of a package index, addressed by content.

A FileEntry binds a storage key, a metadata record and the file content. Entries are
resolved from remote links (MapLink), from known relative paths (GetFileEntry) or
created by uploads (Store). All operations run within a transaction supplied by the caller.

When content is missing, a primary fetches it from its origin URL (FetchRemote), while
a replica asks the primary at which serial the content is committed and waits for
replication to catch up (FetchViaReplica).
*/
package filestore
