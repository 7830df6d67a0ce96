//go:build unix

package walk

import (
	"os"
	"syscall"
)

func inodeAndDev(info os.FileInfo) (inode, dev int64, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return int64(st.Ino), int64(st.Dev), true
}
