package types

import (
	"cmp"
	"strconv"
	"strings"
)

type frameworkFamily int

const (
	familyNet frameworkFamily = iota
	familyNetCoreApp
	familyNetStandard
	familyNetFramework
)

type frameworkVersion [3]int

func (v frameworkVersion) compare(other frameworkVersion) int {
	for i := range v {
		if c := cmp.Compare(v[i], other[i]); c != 0 {
			return c
		}
	}
	return 0
}

// frameworkName is a parsed target framework moniker such as net6.0,
// netstandard2.0, net472 or .NETFramework4.5.
type frameworkName struct {
	family   frameworkFamily
	version  frameworkVersion
	platform string
}

func parseFramework(value string) (frameworkName, bool) {
	name, platform, _ := strings.Cut(NormalizeFramework(value), "-")
	name = strings.TrimPrefix(name, ".")

	var family frameworkFamily
	var digits string
	switch {
	case strings.HasPrefix(name, "netstandard"):
		family, digits = familyNetStandard, strings.TrimPrefix(name, "netstandard")
	case strings.HasPrefix(name, "netcoreapp"):
		family, digits = familyNetCoreApp, strings.TrimPrefix(name, "netcoreapp")
	case strings.HasPrefix(name, "netframework"):
		family, digits = familyNetFramework, strings.TrimPrefix(name, "netframework")
	case strings.HasPrefix(name, "net"):
		family, digits = familyNet, strings.TrimPrefix(name, "net")
		if !strings.Contains(digits, ".") {
			family = familyNetFramework
		}
	default:
		return frameworkName{}, false
	}
	version, ok := parseFrameworkVersion(digits)
	if !ok {
		return frameworkName{}, false
	}
	if family == familyNet && version[0] < 5 {
		family = familyNetFramework
	}
	return frameworkName{family: family, version: version, platform: platform}, true
}

// parseFrameworkVersion reads dotted versions ("2.0") and the compact
// digit form of .NET Framework monikers ("472").
func parseFrameworkVersion(digits string) (frameworkVersion, bool) {
	var version frameworkVersion
	if digits == "" {
		return version, false
	}
	parts := strings.Split(digits, ".")
	if len(parts) == 1 {
		parts = strings.Split(digits, "")
	}
	if len(parts) > len(version) {
		return version, false
	}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return version, false
		}
		version[i] = n
	}
	return version, true
}

// highestStandard is the newest netstandard version target can consume.
func (f frameworkName) highestStandard() (frameworkVersion, bool) {
	switch f.family {
	case familyNet:
		return frameworkVersion{2, 1}, true
	case familyNetCoreApp:
		switch {
		case f.version[0] >= 3:
			return frameworkVersion{2, 1}, true
		case f.version[0] >= 2:
			return frameworkVersion{2, 0}, true
		default:
			return frameworkVersion{1, 6}, true
		}
	case familyNetFramework:
		switch {
		case f.version.compare(frameworkVersion{4, 6, 1}) >= 0:
			return frameworkVersion{2, 0}, true
		case f.version.compare(frameworkVersion{4, 6}) >= 0:
			return frameworkVersion{1, 3}, true
		case f.version.compare(frameworkVersion{4, 5, 1}) >= 0:
			return frameworkVersion{1, 2}, true
		case f.version.compare(frameworkVersion{4, 5}) >= 0:
			return frameworkVersion{1, 1}, true
		}
	}
	return frameworkVersion{}, false
}

// accepts reports whether a project targeting f can consume assets built
// for candidate.
func (f frameworkName) accepts(candidate frameworkName) bool {
	if candidate.platform != "" && candidate.platform != f.platform {
		return false
	}
	if candidate.family == f.family {
		return candidate.version.compare(f.version) <= 0
	}
	switch candidate.family {
	case familyNetCoreApp:
		return f.family == familyNet
	case familyNetStandard:
		highest, ok := f.highestStandard()
		return ok && candidate.version.compare(highest) <= 0
	}
	return false
}

// preference ranks compatible candidates: the target's own family first,
// then netcoreapp, then netstandard. Lower is better.
func (f frameworkName) preference(candidate frameworkName) int {
	if candidate.family == f.family {
		return 0
	}
	if candidate.family == familyNetCoreApp {
		return 1
	}
	return 2
}

// nearestGroup picks the compatible group closest to framework, or -1.
func nearestGroup(groups []DependencyGroup, framework string) int {
	target, ok := parseFramework(framework)
	if !ok {
		return -1
	}
	best := -1
	var bestName frameworkName
	for i, group := range groups {
		candidate, ok := parseFramework(group.TargetFramework)
		if !ok || !target.accepts(candidate) {
			continue
		}
		if best >= 0 {
			rank, bestRank := target.preference(candidate), target.preference(bestName)
			if rank > bestRank || (rank == bestRank && candidate.version.compare(bestName.version) <= 0) {
				continue
			}
		}
		best, bestName = i, candidate
	}
	return best
}
