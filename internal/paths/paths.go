// Package paths distinguishes the two path sorts used throughout the
// launcher: a HostPath is meaningful only to the launching process before
// pivot_root, a ContainerPath is meaningful inside the container's mount
// namespace. Keeping them as distinct types prevents a HostPath ending up
// as a mount target, or a ContainerPath ending up as a mount source.
package paths

import (
	"path/filepath"
	"strings"

	"github.com/opencontainers/runtime-spec/specs-go"
)

// HostPath is an absolute path interpreted in the launching process's own
// mount namespace.
type HostPath string

// ContainerPath is an absolute path interpreted inside the container's
// mount namespace, after pivot_root.
type ContainerPath string

// NewHostPath returns p as a HostPath. No validation is performed beyond
// what the caller already knows: the launcher trusts its own configuration.
func NewHostPath(p string) HostPath {
	return HostPath(p)
}

// NewContainerPath returns p as a ContainerPath.
func NewContainerPath(p string) ContainerPath {
	return ContainerPath(p)
}

// ToHostPath maps a ContainerPath to the HostPath it corresponds to before
// pivot_root, by joining it onto rootfs. This is the only sanctioned way to
// cross from one path sort to the other.
func (c ContainerPath) ToHostPath(rootfs HostPath) HostPath {
	return HostPath(filepath.Join(string(rootfs), strings.TrimPrefix(string(c), "/")))
}

func (h HostPath) String() string      { return string(h) }
func (c ContainerPath) String() string { return string(c) }

// MountSpec describes one mount NamespaceBuilder must perform. Every
// Target is a ContainerPath; every Source, when present, is a HostPath.
type MountSpec struct {
	Source       *HostPath
	Target       ContainerPath
	FSType       string
	Flags        uintptr
	Data         string
	TargetIsFile bool
}

// ToOCIMount renders a MountSpec in OCI runtime-spec vocabulary, for
// logging and for any downstream tool in this pack that expects the
// familiar specs.Mount shape instead of a raw mount(2) argument list.
func (m MountSpec) ToOCIMount() specs.Mount {
	var source string
	if m.Source != nil {
		source = m.Source.String()
	}
	var options []string
	if m.Data != "" {
		options = strings.Split(m.Data, ",")
	}
	return specs.Mount{
		Destination: m.Target.String(),
		Source:      source,
		Type:        m.FSType,
		Options:     options,
	}
}
