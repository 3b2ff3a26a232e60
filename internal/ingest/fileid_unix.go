//go:build unix

package ingest

import (
	"fmt"
	"io/fs"
	"syscall"
)

// fileIdentity derives a stable identity for the log file from its device
// and inode numbers. Rotation replaces the inode even when the path stays
// the same, which is exactly the change the cursor needs to observe.
func fileIdentity(info fs.FileInfo) string {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return fmt.Sprintf("%d:%d", st.Dev, st.Ino)
	}
	return "name:" + info.Name()
}
