package distro

import (
	"os"
	"testing"

	"distrod/internal/paths"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Absent:    "Absent",
		Installed: "Installed",
		Running:   "Running",
		Stopping:  "Stopping",
		State(99): "Unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestInstalledStateDir(t *testing.T) {
	dir := t.TempDir()
	if got := installedState(paths.NewHostPath(dir)); got != Installed {
		t.Errorf("installedState(%q) = %v, want Installed", dir, got)
	}
	if got := installedState(paths.NewHostPath(dir + "/does-not-exist")); got != Absent {
		t.Errorf("installedState(missing) = %v, want Absent", got)
	}
}

// IsInsideRunningDistro reads the real /proc/mounts; outside a launched
// container none of its entries are parked under OldRootPath.
func TestIsInsideRunningDistroFalseOutsideContainer(t *testing.T) {
	if _, err := os.Stat("/proc/mounts"); err != nil {
		t.Skip("no /proc/mounts on this host")
	}
	if IsInsideRunningDistro() {
		t.Errorf("IsInsideRunningDistro() = true outside any launched distro")
	}
}
