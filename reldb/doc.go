// Package reldb is the version-keyed address database.
//
// A Database holds one ItemSet per known build of the host executable. Each
// ItemSet holds one Item per patch, and each Item maps small stable slot
// ids to offsets relative to the image base. A build missing from the
// database and a slot missing from an item are both normal conditions that
// callers degrade on.
package reldb
