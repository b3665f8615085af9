package logging

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// LogLevel orders messages by severity.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

var (
	packageLevels   = map[string]LogLevel{}
	packageLevelsMu sync.RWMutex
)

// SetPackageLogLevels replaces all per-package overrides.
// Keys are package names ("kgraph") or wildcard prefixes ("diagnosis.*").
func SetPackageLogLevels(levels map[string]string) error {
	parsed := make(map[string]LogLevel, len(levels))
	for pkg, levelStr := range levels {
		level, err := parseLevel(levelStr)
		if err != nil {
			return fmt.Errorf("invalid log level for package %q: %w", pkg, err)
		}
		parsed[pkg] = level
	}

	packageLevelsMu.Lock()
	packageLevels = parsed
	packageLevelsMu.Unlock()
	return nil
}

// GetPackageLogLevel returns the override for a package, or -1 if none applies.
func GetPackageLogLevel(packageName string) LogLevel {
	packageLevelsMu.RLock()
	defer packageLevelsMu.RUnlock()

	if level, ok := packageLevels[packageName]; ok {
		return level
	}

	var matches []string
	for pattern := range packageLevels {
		if matchesPattern(packageName, pattern) {
			matches = append(matches, pattern)
		}
	}
	if len(matches) == 0 {
		return LogLevel(-1)
	}
	// most specific (longest) pattern wins
	sort.Slice(matches, func(i, j int) bool {
		if len(matches[i]) != len(matches[j]) {
			return len(matches[i]) > len(matches[j])
		}
		return matches[i] < matches[j]
	})
	return packageLevels[matches[0]]
}

func matchesPattern(packageName, pattern string) bool {
	if packageName == pattern {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(packageName, prefix+".")
	}
	return false
}

// ValidLevel reports whether s names a log level.
func ValidLevel(s string) bool {
	_, err := parseLevel(s)
	return err == nil
}

func parseLevel(levelStr string) (LogLevel, error) {
	upper := strings.ToUpper(strings.TrimSpace(levelStr))
	for level, name := range levelNames {
		if name == upper {
			return level, nil
		}
	}
	return -1, fmt.Errorf("invalid level: %s (must be DEBUG, INFO, WARN, ERROR, or FATAL)", levelStr)
}
