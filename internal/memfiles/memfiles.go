// Package memfiles scans the agent's memory directory and tags each file
// with a heuristic classification derived from its name.
package memfiles

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// FileInfo describes one memory file.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Tags     []string  `json:"tags"`
}

var dateStamped = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// Scan lists the files directly under dir, newest first. A missing
// directory yields an empty result, not an error.
func Scan(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
			Tags:     Classify(entry.Name()),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Modified.After(files[j].Modified)
	})
	return files, nil
}

// Classify derives tags from a filename. Every file gets at least one
// tag; "note" is the fallback.
func Classify(name string) []string {
	lower := strings.ToLower(name)
	base := strings.TrimSuffix(lower, filepath.Ext(lower))

	var tags []string
	if dateStamped.MatchString(base) {
		tags = append(tags, "daily")
	}
	if strings.Contains(base, "call") || strings.Contains(base, "transcript") || strings.Contains(base, "voice") {
		tags = append(tags, "call")
	}
	if strings.Contains(base, "task") || strings.Contains(base, "todo") {
		tags = append(tags, "task")
	}
	if strings.Contains(base, "spend") || strings.Contains(base, "billing") || strings.Contains(base, "cost") {
		tags = append(tags, "spend")
	}
	if strings.Contains(base, "heartbeat") || strings.Contains(base, "health") {
		tags = append(tags, "health")
	}
	if len(tags) == 0 {
		tags = append(tags, "note")
	}
	return tags
}
