package storage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ExpandPaths expands glob patterns (including **) into the matching files.
// Remote URLs are kept as they are, missing paths and directories are skipped
// with a warning.
func (c *Client) ExpandPaths(paths []string) ([]string, error) {
	var expandedPaths []string
	for _, path := range paths {
		if isRemote(path) || !strings.Contains(path, "*") {
			expandedPaths = append(expandedPaths, path)
			continue
		}

		base, pattern := doublestar.SplitPattern(path)
		absBase, err := c.pathModifier.AbsPath(base) // resolves ~/ and expands any envs
		if err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), pattern, doublestar.WithNoFollow())
		if err != nil {
			c.logger.Warnf("Error in path pattern '%s': %s", path, err)
			continue
		}
		if len(matches) == 0 {
			c.logger.Warnf("No match for path pattern: %s", path)
			continue
		}

		for _, match := range matches {
			expandedPaths = append(expandedPaths, filepath.Join(absBase, match))
		}
	}

	var finalPaths []string
	for _, path := range expandedPaths {
		if isRemote(path) {
			finalPaths = append(finalPaths, path)
			continue
		}

		absPath, err := c.pathModifier.AbsPath(path)
		if err != nil {
			c.logger.Warnf("Failed to parse path %s, error: %s", path, err)
			continue
		}

		exists, err := c.pathChecker.IsPathExists(absPath)
		if err != nil {
			c.logger.Warnf("Failed to check path %s, error: %s", absPath, err)
		}
		if !exists {
			c.logger.Warnf("File doesn't exist: %s", path)
			continue
		}

		info, err := os.Stat(absPath)
		if err != nil {
			c.logger.Warnf("Failed to stat path %s, error: %s", absPath, err)
			continue
		}
		if info.IsDir() {
			c.logger.Warnf("Skipping directory: %s", path)
			continue
		}

		finalPaths = append(finalPaths, absPath)
	}

	return finalPaths, nil
}
