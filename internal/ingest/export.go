// Package ingest builds snapshots from Instagram "Download Your Information"
// export files.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ig-audit/igaudit/internal/audit"
)

const (
	followersFileStem          = "followers"
	followingFileStem          = "following"
	exportFileExtension        = ".json"
	stringListDataKey          = "string_list_data"
	fabricatedKeyPrefix        = "username:"
	parseWorkerLimit           = 4
	followersMissingError      = "no followers file found in export"
	followingMissingError      = "no following file found in export"
	unexpectedFormatError      = "unexpected export JSON format"
	undeterminedFileTypeError  = "cannot determine export file type"
	invalidExportPathError     = "export path is neither a file nor a directory"
	parseExportFileErrorFormat = "parse %s: %w"
	readExportFileErrorFormat  = "read %s: %w"
	statExportPathErrorFormat  = "stat %s: %w"
)

// Subdirectories where Instagram exports keep relationship files.
var exportSubdirectories = []string{
	"followers_and_following",
	"connections",
	filepath.Join("connections", "followers_and_following"),
}

type exportEntry struct {
	StringListData []struct {
		Href      string `json:"href"`
		Value     string `json:"value"`
		Timestamp int64  `json:"timestamp"`
	} `json:"string_list_data"`
}

// CollectExport parses an Instagram export into a snapshot.
//
// The path may point at the export directory or at a single followers or
// following file; the sibling file is discovered automatically. Exports do
// not carry stable numeric account identifiers, so primary keys are
// fabricated from the username. Rename detection is therefore unavailable
// for export-only history: the fabricated key itself changes with the name.
func CollectExport(exportPath string) (audit.Snapshot, error) {
	followerFiles, followingFiles, err := locateRelationshipFiles(exportPath)
	if err != nil {
		return audit.Snapshot{}, err
	}

	followers, followerTimestamps, err := parseRelationshipFiles(followerFiles)
	if err != nil {
		return audit.Snapshot{}, err
	}
	following, followingTimestamps, err := parseRelationshipFiles(followingFiles)
	if err != nil {
		return audit.Snapshot{}, err
	}

	capturedAt, err := resolveCaptureTime(append(followerTimestamps, followingTimestamps...), followerFiles[0])
	if err != nil {
		return audit.Snapshot{}, err
	}

	snapshot := audit.NewSnapshot(capturedAt, audit.SourceExport)
	snapshot.Followers = followers
	snapshot.Following = following
	return snapshot, nil
}

func locateRelationshipFiles(exportPath string) ([]string, []string, error) {
	info, err := os.Stat(exportPath)
	if err != nil {
		return nil, nil, fmt.Errorf(statExportPathErrorFormat, exportPath, err)
	}

	switch {
	case info.IsDir():
		followerFiles := findRelationshipFiles(exportPath, followersFileStem)
		followingFiles := findRelationshipFiles(exportPath, followingFileStem)
		if len(followerFiles) == 0 {
			return nil, nil, errors.New(followersMissingError)
		}
		if len(followingFiles) == 0 {
			return nil, nil, errors.New(followingMissingError)
		}
		return followerFiles, followingFiles, nil

	case info.Mode().IsRegular():
		baseName := strings.ToLower(filepath.Base(exportPath))
		parentDirectory := filepath.Dir(exportPath)
		switch {
		case strings.Contains(baseName, followersFileStem):
			followingFiles := findRelationshipFiles(parentDirectory, followingFileStem)
			if len(followingFiles) == 0 {
				return nil, nil, errors.New(followingMissingError)
			}
			return []string{exportPath}, followingFiles, nil
		case strings.Contains(baseName, followingFileStem):
			followerFiles := findRelationshipFiles(parentDirectory, followersFileStem)
			if len(followerFiles) == 0 {
				return nil, nil, errors.New(followersMissingError)
			}
			return followerFiles, []string{exportPath}, nil
		default:
			return nil, nil, fmt.Errorf("%s: %s", undeterminedFileTypeError, exportPath)
		}

	default:
		return nil, nil, fmt.Errorf("%s: %s", invalidExportPathError, exportPath)
	}
}

// findRelationshipFiles collects every export part matching the stem, in the
// root and in the known export subdirectories. Results are sorted so part
// files merge in a stable order.
func findRelationshipFiles(rootDirectory string, fileStem string) []string {
	searchDirectories := append([]string{rootDirectory}, prefixedSubdirectories(rootDirectory)...)

	seenPaths := map[string]bool{}
	var matchedFiles []string
	for _, directory := range searchDirectories {
		entries, err := os.ReadDir(directory)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			lowerName := strings.ToLower(entry.Name())
			if !strings.HasSuffix(lowerName, exportFileExtension) {
				continue
			}
			if !strings.Contains(lowerName, fileStem) {
				continue
			}
			// Combined archives ship "followers_and_following" bundles
			// that must not match either stem on its own.
			if fileStem == followersFileStem && strings.Contains(lowerName, followingFileStem) {
				continue
			}
			if fileStem == followingFileStem && strings.Contains(lowerName, followersFileStem) {
				continue
			}
			fullPath := filepath.Join(directory, entry.Name())
			if seenPaths[fullPath] {
				continue
			}
			seenPaths[fullPath] = true
			matchedFiles = append(matchedFiles, fullPath)
		}
	}
	sort.Strings(matchedFiles)
	return matchedFiles
}

func prefixedSubdirectories(rootDirectory string) []string {
	directories := make([]string, 0, len(exportSubdirectories))
	for _, subdirectory := range exportSubdirectories {
		directories = append(directories, filepath.Join(rootDirectory, subdirectory))
	}
	return directories
}

// parseRelationshipFiles parses export part files with a bounded worker
// group and merges their identities into one set.
func parseRelationshipFiles(filePaths []string) (audit.AccountSet, []int64, error) {
	merged := audit.AccountSet{}
	var timestamps []int64
	var mergeMutex sync.Mutex

	var group errgroup.Group
	group.SetLimit(parseWorkerLimit)
	for _, filePath := range filePaths {
		filePath := filePath
		group.Go(func() error {
			identities, fileTimestamps, parseErr := parseRelationshipFile(filePath)
			if parseErr != nil {
				return parseErr
			}
			mergeMutex.Lock()
			for _, identity := range identities {
				merged.Add(identity)
			}
			timestamps = append(timestamps, fileTimestamps...)
			mergeMutex.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, nil, err
	}
	return merged, timestamps, nil
}

func parseRelationshipFile(filePath string) ([]audit.AccountIdentity, []int64, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf(readExportFileErrorFormat, filePath, err)
	}

	entries, err := decodeExportEntries(data)
	if err != nil {
		return nil, nil, fmt.Errorf(parseExportFileErrorFormat, filePath, err)
	}

	var identities []audit.AccountIdentity
	var timestamps []int64
	for _, entry := range entries {
		for _, item := range entry.StringListData {
			if item.Timestamp > 0 {
				timestamps = append(timestamps, item.Timestamp)
			}
			username := strings.TrimSpace(item.Value)
			if username == "" {
				continue
			}
			identities = append(identities, audit.AccountIdentity{
				PK:       fabricatedKeyPrefix + username,
				Username: username,
			})
		}
	}
	return identities, timestamps, nil
}

// decodeExportEntries accepts the bare-list export format as well as the
// variant that wraps the list in an object keyed by relationship type.
func decodeExportEntries(data []byte) ([]exportEntry, error) {
	var entries []exportEntry
	if err := json.Unmarshal(data, &entries); err == nil {
		return entries, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, errors.New(unexpectedFormatError)
	}
	wrappedKeys := make([]string, 0, len(wrapped))
	for key := range wrapped {
		wrappedKeys = append(wrappedKeys, key)
	}
	sort.Strings(wrappedKeys)
	for _, key := range wrappedKeys {
		if err := json.Unmarshal(wrapped[key], &entries); err == nil {
			return entries, nil
		}
	}

	var single exportEntry
	if err := json.Unmarshal(data, &single); err == nil && len(single.StringListData) > 0 {
		return []exportEntry{single}, nil
	}
	return nil, errors.New(unexpectedFormatError)
}

func resolveCaptureTime(timestamps []int64, fallbackFilePath string) (time.Time, error) {
	var latest int64
	for _, timestamp := range timestamps {
		if timestamp > latest {
			latest = timestamp
		}
	}
	if latest > 0 {
		return time.Unix(latest, 0).UTC(), nil
	}

	info, err := os.Stat(fallbackFilePath)
	if err != nil {
		return time.Time{}, fmt.Errorf(statExportPathErrorFormat, fallbackFilePath, err)
	}
	return info.ModTime().UTC(), nil
}
