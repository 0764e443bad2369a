// Package credential reads /etc/passwd, resolves a user to (uid, gid,
// supplementary groups), and drops root privilege inside a forked child.
package credential

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"distrod/internal/distroerr"
)

// Credential is the (uid, gid, supplementary groups) triple a child process
// is switched to before exec'ing the requested command.
type Credential struct {
	UID    uint32
	GID    uint32
	Groups []uint32
}

// TryDropPrivilege applies the credential irreversibly: supplementary
// groups first, then real/effective/saved gid, then real/effective/saved
// uid. The order matters — dropping uid first would make the later
// setgroups/setresgid calls fail for lack of permission.
func (c Credential) TryDropPrivilege() error {
	groups := make([]int, len(c.Groups))
	for i, g := range c.Groups {
		groups[i] = int(g)
	}
	if err := unix.Setgroups(groups); err != nil {
		return fmt.Errorf("setgroups failed: %w", err)
	}
	gid := int(c.GID)
	if err := unix.Setresgid(gid, gid, gid); err != nil {
		return fmt.Errorf("setresgid failed: %w", err)
	}
	uid := int(c.UID)
	if err := unix.Setresuid(uid, uid, uid); err != nil {
		return fmt.Errorf("setresuid failed: %w", err)
	}
	return nil
}

// DropPrivilege applies the credential, terminating the current process
// with exit status 1 on any failure. Partial drops are never left in
// place: any failure in the sequence is fatal to the child.
func (c Credential) DropPrivilege() {
	if err := c.TryDropPrivilege(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to drop privilege, aborting: %v\n", err)
		os.Exit(1)
	}
}

// Passwd is one parsed /etc/passwd record.
type Passwd struct {
	Name   string
	Passwd string
	UID    uint32
	GID    uint32
	Gecos  string
	Dir    string
	Shell  string
}

// Serialize renders the record back into its colon-separated line form.
func (p Passwd) Serialize() string {
	return strings.Join([]string{
		p.Name, p.Passwd,
		strconv.FormatUint(uint64(p.UID), 10),
		strconv.FormatUint(uint64(p.GID), 10),
		p.Gecos, p.Dir, p.Shell,
	}, ":")
}

// ParsePasswdLine deserializes one colon-separated /etc/passwd line.
func ParsePasswdLine(line string) (Passwd, error) {
	fields := strings.Split(line, ":")
	if len(fields) != 7 {
		return Passwd{}, fmt.Errorf("invalid /etc/passwd line (want 7 fields, got %d): %q", len(fields), line)
	}
	uid, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Passwd{}, fmt.Errorf("invalid uid in passwd line %q: %w", line, err)
	}
	gid, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return Passwd{}, fmt.Errorf("invalid gid in passwd line %q: %w", line, err)
	}
	return Passwd{
		Name: fields[0], Passwd: fields[1],
		UID: uint32(uid), GID: uint32(gid),
		Gecos: fields[4], Dir: fields[5], Shell: fields[6],
	}, nil
}

// PasswdFile is a parsed /etc/passwd, held in memory for lookup.
type PasswdFile struct {
	entries []Passwd
}

// OpenPasswdFile reads and parses path as a /etc/passwd-formatted file.
func OpenPasswdFile(path string) (*PasswdFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", path, err)
	}
	var entries []Passwd
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		p, err := ParsePasswdLine(line)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %q: %w", path, err)
		}
		entries = append(entries, p)
	}
	return &PasswdFile{entries: entries}, nil
}

// ByName looks up a passwd entry by username.
func (pf *PasswdFile) ByName(name string) (Passwd, bool) {
	for _, e := range pf.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Passwd{}, false
}

// ByUID looks up a passwd entry by uid.
func (pf *PasswdFile) ByUID(uid uint32) (Passwd, bool) {
	for _, e := range pf.entries {
		if e.UID == uid {
			return e, true
		}
	}
	return Passwd{}, false
}

// FromPasswdFile resolves a Credential by username (preferred) or uid
// against the given passwd file path. It returns distroerr.ErrNotFound if
// neither is given, or if the lookup has no match.
func FromPasswdFile(path string, name string, uid *uint32) (Credential, error) {
	pf, err := OpenPasswdFile(path)
	if err != nil {
		return Credential{}, err
	}
	var (
		p  Passwd
		ok bool
	)
	switch {
	case name != "":
		p, ok = pf.ByName(name)
	case uid != nil:
		p, ok = pf.ByUID(*uid)
	default:
		return Credential{}, fmt.Errorf("neither a name nor a uid was given: %w", distroerr.ErrNotFound)
	}
	if !ok {
		return Credential{}, fmt.Errorf("the given user doesn't exist: %w", distroerr.ErrNotFound)
	}
	return Credential{UID: p.UID, GID: p.GID, Groups: []uint32{p.GID}}, nil
}

// FromUID builds a minimal Credential for a bare uid with no passwd entry,
// the fallback exec uses when --uid is given but /etc/passwd inside the
// container has no matching row.
func FromUID(uid uint32) Credential {
	return Credential{UID: uid, GID: uid, Groups: []uint32{uid}}
}
