// Package firmware compares installed hub firmware with published releases.
// It never writes firmware to a hub.
package firmware

import (
	"regexp"
	"strconv"

	"github.com/llll-robotics/llll/internal/types"
)

// Version is a parsed major.minor.patch triple.
type Version [3]int

var versionRe = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:(?:a|b|rc)\d*)?$`)

// ParseVersion accepts "3.6.1", "v3.6.1" and pre-releases such as "3.6.0b1",
// whose suffix is ignored. Missing minor or patch components count as zero.
func ParseVersion(s string) (Version, bool) {
	m := versionRe.FindStringSubmatch(s)
	if m == nil {
		return Version{}, false
	}

	var v Version
	for i := 0; i < 3; i++ {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Version{}, false
		}
		v[i] = n
	}
	return v, true
}

// Cmp returns -1, 0 or 1, comparing component by component.
func (v Version) Cmp(other Version) int {
	for i := 0; i < 3; i++ {
		switch {
		case v[i] < other[i]:
			return -1
		case v[i] > other[i]:
			return 1
		}
	}
	return 0
}

// Compare reports whether installed is behind latest. An installed version
// newer than latest is UpToDate. Either side missing or unparsable gives
// Unknown.
func Compare(installed, latest string) types.FirmwareStatus {
	l, ok := ParseVersion(latest)
	if !ok {
		return types.FirmwareStatus{State: types.FirmwareUnknown}
	}
	i, ok := ParseVersion(installed)
	if !ok {
		return types.FirmwareStatus{State: types.FirmwareUnknown}
	}

	if i.Cmp(l) < 0 {
		return types.FirmwareStatus{State: types.FirmwareUpdateAvailable, Latest: latest}
	}
	return types.FirmwareStatus{State: types.FirmwareUpToDate}
}
