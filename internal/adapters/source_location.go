package adapters

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// SourceLocation is a resolved feed location: either an HTTP(S) service
// index URL or an absolute directory path.
type SourceLocation struct {
	URL  *url.URL
	Path string
}

func (l SourceLocation) IsRemote() bool { return l.URL != nil }

func (l SourceLocation) String() string {
	if l.URL != nil {
		return l.URL.String()
	}
	return l.Path
}

// ResolveSourceLocation interprets raw as an http(s) URL, a file URL or a
// filesystem path. Relative paths are resolved against basePath; any other
// URL scheme is rejected.
func ResolveSourceLocation(basePath string, raw string) (SourceLocation, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return SourceLocation{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("feed location is empty")
	}
	if parsed, err := url.Parse(value); err == nil && len(parsed.Scheme) > 1 {
		switch strings.ToLower(parsed.Scheme) {
		case "http", "https":
			if parsed.Host == "" {
				return SourceLocation{}, errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg(fmt.Sprintf("feed url %q has no host", value))
			}
			return SourceLocation{URL: parsed}, nil
		case "file":
			return resolveDirectory(basePath, filepath.FromSlash(parsed.Path))
		default:
			return SourceLocation{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("unsupported feed scheme %q", parsed.Scheme))
		}
	}
	return resolveDirectory(basePath, value)
}

func resolveDirectory(basePath string, path string) (SourceLocation, error) {
	if path == "" {
		return SourceLocation{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("feed path is empty")
	}
	if !filepath.IsAbs(path) {
		base := basePath
		if strings.TrimSpace(base) == "" {
			wd, err := os.Getwd()
			if err != nil {
				return SourceLocation{}, errbuilder.New().
					WithCode(errbuilder.CodeInternal).
					WithMsg("failed to determine working directory").
					WithCause(err)
			}
			base = wd
		}
		path = filepath.Join(base, path)
	}
	return SourceLocation{Path: filepath.Clean(path)}, nil
}

// GlobalPackagesFolder returns the machine-wide package cache directory,
// honoring NUGET_PACKAGES.
func GlobalPackagesFolder() string {
	if value := strings.TrimSpace(os.Getenv("NUGET_PACKAGES")); value != "" {
		return filepath.Clean(value)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".nuget", "packages")
}

// SamePath reports whether two directory paths refer to the same location.
func SamePath(a string, b string) bool {
	if a == "" || b == "" {
		return false
	}
	cleanA, errA := filepath.Abs(a)
	cleanB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	if cleanA == cleanB {
		return true
	}
	infoA, errA := os.Stat(cleanA)
	infoB, errB := os.Stat(cleanB)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}
