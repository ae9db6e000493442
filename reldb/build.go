package reldb

import (
	"fmt"
	"strings"
)

// RVA is an offset relative to the image base.
type RVA uint32

func (r RVA) String() string {
	return fmt.Sprintf("0x%08x", uint32(r))
}

// BuildIdentity names one shipped build of the host executable.
type BuildIdentity struct {
	Family  string
	Version string
}

func (b BuildIdentity) String() string {
	return b.Family + "/" + b.Version
}

// Short returns the last dot separated component of the version, which is
// how builds of one family are told apart ("1.10.163" -> "163").
func (b BuildIdentity) Short() string {
	if i := strings.LastIndexByte(b.Version, '.'); i >= 0 {
		return b.Version[i+1:]
	}
	return b.Version
}

// VersionString is the human readable version passed to applicability
// checks.
func (b BuildIdentity) VersionString() string {
	return b.Family + " " + b.Version
}

func (b BuildIdentity) IsZero() bool {
	return b.Family == "" && b.Version == ""
}

// ParseBuildIdentity parses "family/version".
func ParseBuildIdentity(s string) (BuildIdentity, error) {
	family, version, ok := strings.Cut(s, "/")
	if !ok || family == "" || version == "" {
		return BuildIdentity{}, fmt.Errorf("invalid build identity %q: want family/version", s)
	}
	return BuildIdentity{Family: family, Version: version}, nil
}

// Fingerprint identifies a loaded image by values from its PE headers.
type Fingerprint struct {
	ImageSize     uint32
	TimeDateStamp uint32
	CheckSum      uint32
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("size=0x%x timestamp=0x%x checksum=0x%x", f.ImageSize, f.TimeDateStamp, f.CheckSum)
}
