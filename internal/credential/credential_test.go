package credential

import (
	"os"
	"path/filepath"
	"testing"
)

const samplePasswd = "root:x:0:0:root:/root:/bin/bash\n" +
	"nullpo:x:1000:1000:,,,:/home/nullpo:/bin/bash\n" +
	"foo:x:1000:1000:,,,::/sbin/nologin\n"

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	lines := []string{
		"root:x:0:0:root:/root:/bin/bash",
		"nullpo:x:1000:1000:,,,:/home/nullpo:/bin/bash",
		"foo:x:1000:1000:,,,::/sbin/nologin",
	}
	for _, line := range lines {
		p, err := ParsePasswdLine(line)
		if err != nil {
			t.Fatalf("ParsePasswdLine(%q) failed: %v", line, err)
		}
		if got := p.Serialize(); got != line {
			t.Errorf("round trip mismatch: got %q, want %q", got, line)
		}
	}
}

func TestParsePasswdLineRejectsShortLines(t *testing.T) {
	if _, err := ParsePasswdLine("root:x:0:0:root:/root"); err == nil {
		t.Fatal("expected an error for a line missing a field")
	}
}

func writeSamplePasswd(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "passwd")
	if err := os.WriteFile(path, []byte(samplePasswd), 0o644); err != nil {
		t.Fatalf("failed to write sample passwd: %v", err)
	}
	return path
}

func TestFromPasswdFileByName(t *testing.T) {
	path := writeSamplePasswd(t)
	cred, err := FromPasswdFile(path, "nullpo", nil)
	if err != nil {
		t.Fatalf("FromPasswdFile failed: %v", err)
	}
	if cred.UID != 1000 || cred.GID != 1000 || len(cred.Groups) != 1 || cred.Groups[0] != 1000 {
		t.Errorf("unexpected credential: %+v", cred)
	}
}

func TestFromPasswdFileByUID(t *testing.T) {
	path := writeSamplePasswd(t)
	uid := uint32(0)
	cred, err := FromPasswdFile(path, "", &uid)
	if err != nil {
		t.Fatalf("FromPasswdFile failed: %v", err)
	}
	if cred.UID != 0 || cred.GID != 0 {
		t.Errorf("unexpected credential: %+v", cred)
	}
}

func TestFromPasswdFileNotFound(t *testing.T) {
	path := writeSamplePasswd(t)
	uid := uint32(99999)
	if _, err := FromPasswdFile(path, "", &uid); err == nil {
		t.Fatal("expected an error for an unknown uid")
	}
}

func TestFromUID(t *testing.T) {
	cred := FromUID(1234)
	if cred.UID != 1234 || cred.GID != 1234 || len(cred.Groups) != 1 || cred.Groups[0] != 1234 {
		t.Errorf("unexpected credential: %+v", cred)
	}
}
