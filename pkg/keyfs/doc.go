/*
Package keyfs is a transactional key/value store for release file metadata.

Records are stored in a badger database under typed keys, built from patterns such as

	{user}/{index}/+f/{hashdir_a}/{hashdir_b}/{filename}

File contents are staged along with records in the same transaction and written
to a blob store on commit.

Every commit which changes anything is assigned the next serial number, and leaves
a changelog entry behind. Replicas fetch change sets by serial and import them at
exactly the same serial.
*/
package keyfs
