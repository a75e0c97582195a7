package logstream

import (
	"bufio"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/emberwatch-io/emberwatch/internal/config"
	"github.com/emberwatch-io/emberwatch/internal/models"
)

// dailyLogName matches daily log files like 2026-08-31.jsonl.
var dailyLogName = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.jsonl$`)

// ListDailyLogs returns the daily log file paths under a root, oldest first.
func ListDailyLogs(root string) ([]string, error) {
	dir := config.SessionsDir(root)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !dailyLogName.MatchString(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadEntries parses a daily log file. Unparseable lines are skipped:
// readers must tolerate a torn tail left by a crashed writer from an older
// version, even though the store itself never produces one.
func ReadEntries(path string) ([]*models.LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []*models.LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e models.LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, &e)
	}
	return entries, scanner.Err()
}

// SessionEntries returns all entries for one session across every daily
// log, sorted by timestamp. File position only orders entries within a
// session; cross-session interleaving is flush order.
func SessionEntries(root, sessionID string) ([]*models.LogEntry, error) {
	paths, err := ListDailyLogs(root)
	if err != nil {
		return nil, err
	}

	var result []*models.LogEntry
	for _, path := range paths {
		entries, err := ReadEntries(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.SessionID == sessionID {
				result = append(result, e)
			}
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// PruneDailyLogs removes daily log files older than keepDays. Returns the
// number of files removed.
func PruneDailyLogs(root string, keepDays int, logger *log.Logger) (int, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	if logger == nil {
		logger = log.Default()
	}

	cutoff := timeNow().UTC().AddDate(0, 0, -keepDays).Format("2006-01-02")
	paths, err := ListDailyLogs(root)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range paths {
		day := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		if day >= cutoff {
			continue
		}
		if err := os.Remove(path); err != nil {
			logger.Printf("[streams] pruning %s failed: %v", path, err)
			continue
		}
		removed++
	}
	return removed, nil
}
