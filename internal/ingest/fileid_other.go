//go:build !unix

package ingest

import "io/fs"

// fileIdentity falls back to the file name on platforms without inode
// metadata. Copy-truncate rotation is still caught by the size check;
// rename rotation only becomes visible once the replacement file is
// shorter than the recorded offset.
func fileIdentity(info fs.FileInfo) string {
	return "name:" + info.Name()
}
