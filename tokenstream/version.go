// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tokenstream

import (
	"fmt"

	"github.com/pkg/errors"
)

// Version is the four-component engine version embedded at the head of every
// stream.
type Version struct {
	Major uint16
	Minor uint16
	Patch uint16
	Build uint16
}

var (
	// VersionLegacy is the oldest supported stream version. Its body is a raw,
	// uncompressed byte stream.
	VersionLegacy = Version{Major: 1}

	// VersionCompressionFraming is the first version whose header carries a
	// compression type and chunk size, and whose body is chunk framed.
	VersionCompressionFraming = Version{Major: 1, Minor: 1}

	// VersionDenseMapping is the first version whose replays use dense,
	// vector-backed handle mapping.
	VersionDenseMapping = Version{Major: 1, Minor: 2}

	// CurrentVersion is the version written by this engine.
	CurrentVersion = VersionDenseMapping
)

// Compare returns -1, 0, or 1 if v is older than, equal to, or newer than o.
func (v Version) Compare(o Version) int {
	a := [...]uint16{v.Major, v.Minor, v.Patch, v.Build}
	b := [...]uint16{o.Major, o.Minor, o.Patch, o.Build}
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// IsZero returns true if v is the zero Version.
func (v Version) IsZero() bool { return v == Version{} }

// HasCompressionFraming returns true if streams of this version have a
// compression header and a chunk-framed body.
func (v Version) HasCompressionFraming() bool {
	return v.Compare(VersionCompressionFraming) >= 0
}

// DenseMapping returns true if replays of this version should use dense
// handle mapping.
func (v Version) DenseMapping() bool {
	return v.Compare(VersionDenseMapping) >= 0
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Patch, v.Build)
}

// ParseVersion parses a version in "major.minor.patch.build" form.
func ParseVersion(v string) (Version, error) {
	var ver Version
	if _, err := fmt.Sscanf(v, "%d.%d.%d.%d", &ver.Major, &ver.Minor, &ver.Patch, &ver.Build); err != nil {
		return Version{}, errors.Wrapf(err, "invalid version %q", v)
	}
	return ver, nil
}
