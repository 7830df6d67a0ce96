//go:build !unix

package walk

import "os"

func inodeAndDev(os.FileInfo) (inode, dev int64, ok bool) {
	return 0, 0, false
}
