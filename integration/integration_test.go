package integration

import (
	"bytes"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"
)

// These scenarios only make sense inside a real Linux VM with CAP_SYS_ADMIN
// and a prepared rootfs at testRootfs (see integration/README absent here,
// matching the environment variable already used by the rest of this pack's
// IN_VM-gated suites). They build the distrod binary fresh and drive it as
// an external process, since namespace entry/exit is not observable from
// inside a single Go test binary.

func buildDistrod(t *testing.T) string {
	t.Helper()
	bin := t.TempDir() + "/distrod"
	build := exec.Command("go", "build", "-o", bin, "./cmd/distrod")
	build.Dir = ".."
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("failed to build distrod: %v\n%s", err, out)
	}
	return bin
}

func testRootfs(t *testing.T) string {
	t.Helper()
	rootfs := os.Getenv("DISTROD_TEST_ROOTFS")
	if rootfs == "" {
		t.Skip("DISTROD_TEST_ROOTFS not set")
	}
	return rootfs
}

func requireVM(t *testing.T) {
	t.Helper()
	if os.Getenv("IN_VM") != "1" {
		t.Skip("integration test only runs inside the VM")
	}
}

func runDistrod(t *testing.T, bin string, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command("sudo", append([]string{bin}, args...)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// S1: launch-then-exec-echo.
func TestLaunchThenExecEcho(t *testing.T) {
	requireVM(t)
	rootfs := testRootfs(t)
	bin := buildDistrod(t)
	defer runDistrod(t, bin, "stop", "--sigkill")

	if out, err := runDistrod(t, bin, "start", "--rootfs", rootfs); err != nil {
		t.Fatalf("start failed: %v\n%s", err, out)
	}

	out, err := runDistrod(t, bin, "exec", "/bin/echo", "hello")
	if err != nil {
		t.Fatalf("exec failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "hello") {
		t.Fatalf("expected output to contain %q, got:\n%s", "hello", out)
	}
}

// S2: exec inherits a fresh pid namespace, so the echoed shell pid is small.
func TestExecFreshPidNamespace(t *testing.T) {
	requireVM(t)
	rootfs := testRootfs(t)
	bin := buildDistrod(t)
	defer runDistrod(t, bin, "stop", "--sigkill")

	if out, err := runDistrod(t, bin, "start", "--rootfs", rootfs); err != nil {
		t.Fatalf("start failed: %v\n%s", err, out)
	}

	out, err := runDistrod(t, bin, "exec", "/bin/sh", "-c", "echo $$")
	if err != nil {
		t.Fatalf("exec failed: %v\n%s", err, out)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("expected a bare pid, got %q: %v", out, err)
	}
	if pid >= 100 {
		t.Fatalf("expected a fresh-namespace pid under 100, got %d", pid)
	}
}

// S3: a graceful stop eventually leaves no live init process behind.
func TestStopGraceful(t *testing.T) {
	requireVM(t)
	rootfs := testRootfs(t)
	bin := buildDistrod(t)

	if out, err := runDistrod(t, bin, "start", "--rootfs", rootfs); err != nil {
		t.Fatalf("start failed: %v\n%s", err, out)
	}
	if out, err := runDistrod(t, bin, "stop"); err != nil {
		t.Fatalf("stop failed: %v\n%s", err, out)
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if out, err := runDistrod(t, bin, "exec", "/bin/true"); err != nil && strings.Contains(out, "no distro") {
			return
		}
		time.Sleep(time.Second)
	}
	t.Fatalf("distro still reachable 30s after a graceful stop")
}

// S4: a forceful stop reports the distro gone within 2s.
func TestStopForceful(t *testing.T) {
	requireVM(t)
	rootfs := testRootfs(t)
	bin := buildDistrod(t)

	if out, err := runDistrod(t, bin, "start", "--rootfs", rootfs); err != nil {
		t.Fatalf("start failed: %v\n%s", err, out)
	}
	if out, err := runDistrod(t, bin, "stop", "--sigkill"); err != nil {
		t.Fatalf("stop --sigkill failed: %v\n%s", err, out)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		out, err := runDistrod(t, bin, "exec", "/bin/true")
		if err != nil && strings.Contains(out, "no distro") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("distro still reachable 2s after a forceful stop")
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// S5: a tampered run record is rejected without being overwritten.
func TestTamperedRunRecordRejected(t *testing.T) {
	requireVM(t)
	bin := buildDistrod(t)

	const statePath = "/var/run/distrod.json"
	_ = os.Remove(statePath)
	if err := os.WriteFile(statePath, []byte(`{"rootfs":"/x","init_pid":1}`), 0o644); err != nil {
		t.Fatalf("failed to write a tampered run record: %v", err)
	}
	if err := exec.Command("sudo", "chown", "1000:1000", statePath).Run(); err != nil {
		t.Fatalf("failed to chown the run record: %v", err)
	}
	defer os.Remove(statePath)

	out, err := runDistrod(t, bin, "exec", "/bin/true")
	if err == nil {
		t.Fatalf("expected exec against a tampered run record to fail, got:\n%s", out)
	}

	raw, err := os.ReadFile(statePath)
	if err != nil {
		t.Fatalf("the tampered run record was removed: %v", err)
	}
	if !strings.Contains(string(raw), `"init_pid":1`) {
		t.Fatalf("the tampered run record was modified: %s", raw)
	}
}

// S6: the kernel cmdline overlay carries WSL_DISTRO_NAME through to the
// container as a systemd.setenv= directive.
func TestCmdlineOverlayCarriesWslEnv(t *testing.T) {
	requireVM(t)
	rootfs := testRootfs(t)
	bin := buildDistrod(t)
	defer runDistrod(t, bin, "stop", "--sigkill")

	startCmd := exec.Command("sudo", "-E", bin, "start", "--rootfs", rootfs)
	startCmd.Env = append(os.Environ(), "WSL_DISTRO_NAME=foo")
	if out, err := startCmd.CombinedOutput(); err != nil {
		t.Fatalf("start failed: %v\n%s", err, out)
	}

	out, err := runDistrod(t, bin, "exec", "/bin/cat", "/proc/cmdline")
	if err != nil {
		t.Fatalf("exec failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "systemd.setenv=WSL_DISTRO_NAME=foo") {
		t.Fatalf("expected /proc/cmdline to carry the WSL env overlay, got:\n%s", out)
	}
}

// S7: two overlapping execs each run to completion independently.
func TestConcurrentExecIndependentProcessTrees(t *testing.T) {
	requireVM(t)
	rootfs := testRootfs(t)
	bin := buildDistrod(t)
	defer runDistrod(t, bin, "stop", "--sigkill")

	if out, err := runDistrod(t, bin, "start", "--rootfs", rootfs); err != nil {
		t.Fatalf("start failed: %v\n%s", err, out)
	}

	start := time.Now()
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := runDistrod(t, bin, "exec", "/bin/sleep", "2")
			results <- err
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Fatalf("concurrent exec failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("concurrent execs took %s, expected roughly 2s", elapsed)
	}
}
