package runstate

import (
	"fmt"
	"os"
	"syscall"
)

func fileOwner(info os.FileInfo) (uid, gid uint32, err error) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, fmt.Errorf("unable to read file ownership for %q", info.Name())
	}
	return st.Uid, st.Gid, nil
}
