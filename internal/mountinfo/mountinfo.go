// Package mountinfo parses /proc/mounts, the source NamespaceBuilder
// consults to find 9p-mounted Windows drives that need to be bound into the
// container before the old root is torn down.
package mountinfo

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Entry is one whitespace-separated row of /proc/mounts: source, mount
// path, filesystem type, and the remaining mount-option attributes.
type Entry struct {
	Source     string
	Path       string
	FSType     string
	Attributes string
}

// Entries reads and parses /proc/mounts.
func Entries() ([]Entry, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, fmt.Errorf("failed to open /proc/mounts: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.SplitN(line, " ", 4)
		if len(fields) < 4 {
			return nil, fmt.Errorf("malformed /proc/mounts line: %q", line)
		}
		entries = append(entries, Entry{
			Source:     fields[0],
			Path:       fields[1],
			FSType:     fields[2],
			Attributes: fields[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read /proc/mounts: %w", err)
	}
	return entries, nil
}
