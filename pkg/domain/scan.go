package domain

import "strings"

// ScanDirection is the order in which a scan visits keys.
type ScanDirection int

const (
	Forward  ScanDirection = 1
	Backward ScanDirection = -1
)

func (d ScanDirection) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// ParseScanDirection accepts "forward"/"backward" (or "1"/"-1"); empty means forward.
func ParseScanDirection(s string) (ScanDirection, error) {
	switch strings.ToLower(s) {
	case "", "forward", "1":
		return Forward, nil
	case "backward", "-1":
		return Backward, nil
	}
	return Forward, NewStatus(CodeBadValue, "unknown scan direction %q", s)
}

// BoundInclusion says which of a scan's two conceptual bounds are inclusive.
type BoundInclusion int

const (
	IncludeStartKeyOnly BoundInclusion = iota
	IncludeEndKeyOnly
	IncludeBothStartAndEndKeys
	ExcludeBothStartAndEndKeys
)

var boundNames = map[BoundInclusion]string{
	IncludeStartKeyOnly:        "includeStart",
	IncludeEndKeyOnly:          "includeEnd",
	IncludeBothStartAndEndKeys: "includeBoth",
	ExcludeBothStartAndEndKeys: "includeNeither",
}

func (b BoundInclusion) String() string {
	if name, ok := boundNames[b]; ok {
		return name
	}
	return "unknown"
}

// IncludesStart reports whether a start key equal to the seek key is admitted.
func (b BoundInclusion) IncludesStart() bool {
	return b == IncludeStartKeyOnly || b == IncludeBothStartAndEndKeys
}

// ParseBoundInclusion accepts the names returned by String; empty means includeStart.
func ParseBoundInclusion(s string) (BoundInclusion, error) {
	if s == "" {
		return IncludeStartKeyOnly, nil
	}
	for b, name := range boundNames {
		if strings.EqualFold(name, s) {
			return b, nil
		}
	}
	return IncludeStartKeyOnly, NewStatus(CodeBadValue, "unknown bound inclusion %q", s)
}
