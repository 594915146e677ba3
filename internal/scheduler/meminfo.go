package scheduler

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// parseMemAvailable extracts MemAvailable, in bytes, from /proc/meminfo
// content. ok is false when the kernel does not report the field.
func parseMemAvailable(r io.Reader) (avail uint64, ok bool, err error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		name, rest, found := strings.Cut(sc.Text(), ":")
		if !found || name != "MemAvailable" {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return 0, false, fmt.Errorf("meminfo: empty MemAvailable")
		}
		v, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("meminfo: MemAvailable: %w", err)
		}
		if len(fields) > 1 && strings.EqualFold(fields[1], "kB") {
			v *= 1024
		}
		return v, true, nil
	}
	return 0, false, sc.Err()
}
