package convstore

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// tailScanBytes is how far from the end of a file the permission/takeover
// passes look, per spec.md §4.1 ("walk a file's tail, last ~64 KiB").
const tailScanBytes = 64 * 1024

// recentIndexSize is how many of the most-recently-modified sessions are
// kept in the fast lookup index before FindByPrefix falls back to a full
// filesystem scan (spec.md §4.1).
const recentIndexSize = 50

// previewMaxLen bounds the one-line history preview.
const previewMaxLen = 160

// Project describes one working-directory's conversation directory.
type Project struct {
	EncodedName  string
	CWD          string
	SessionCount int
	LastModified time.Time
}

// SessionSummary describes one session file without fully parsing it.
type SessionSummary struct {
	ID           string
	ProjectDir   string // encoded directory name
	Path         string
	LastModified time.Time
	Preview      string
}

// Store indexes the Agent's conversation tree rooted at root
// (normally `<home>/.claude/projects`).
type Store struct {
	root string
}

// New returns a Store rooted at root.
func New(root string) *Store {
	return &Store{root: root}
}

// SessionPath returns the on-disk record path for sessionID under cwd's
// encoded project directory, without checking the file exists.
func (s *Store) SessionPath(cwd, sessionID string) string {
	return filepath.Join(s.root, EncodeProjectDir(cwd), sessionID+".jsonl")
}

// Projects enumerates every project directory with a session count and
// the most recent modification time among its session files. A missing
// or unreadable root yields an empty result, not an error.
func (s *Store) Projects() []Project {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil
	}
	var projects []Project
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		var count int
		var last time.Time
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			count++
			if info, err := f.Info(); err == nil && info.ModTime().After(last) {
				last = info.ModTime()
			}
		}
		if count == 0 {
			continue
		}
		projects = append(projects, Project{
			EncodedName:  e.Name(),
			CWD:          DecodeProjectDir(e.Name()),
			SessionCount: count,
			LastModified: last,
		})
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].LastModified.After(projects[j].LastModified)
	})
	return projects
}

// RecentSessions enumerates sessions across every project (projectDir ==
// "") or within one encoded project directory, sorted by modification
// time descending.
func (s *Store) RecentSessions(projectDir string) []SessionSummary {
	var dirs []string
	if projectDir != "" {
		dirs = []string{projectDir}
	} else {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			return nil
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, e.Name())
			}
		}
	}

	var out []SessionSummary
	for _, d := range dirs {
		dirPath := filepath.Join(s.root, d)
		files, err := os.ReadDir(dirPath)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			path := filepath.Join(dirPath, f.Name())
			out = append(out, SessionSummary{
				ID:           strings.TrimSuffix(f.Name(), ".jsonl"),
				ProjectDir:   d,
				Path:         path,
				LastModified: info.ModTime(),
				Preview:      previewOf(path),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out
}

// FindByPrefix resolves a short session id (>= 8 hex chars) to its full
// summary. It first checks the recent-N index; on miss it scans the
// filesystem directly, satisfying "very old session lookup" from
// spec.md §8.
func (s *Store) FindByPrefix(prefix string) (SessionSummary, bool) {
	recent := s.RecentSessions("")
	if len(recent) > recentIndexSize {
		recent = recent[:recentIndexSize]
	}
	for _, sess := range recent {
		if strings.HasPrefix(sess.ID, prefix) {
			return sess, true
		}
	}

	var found SessionSummary
	ok := false
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return SessionSummary{}, false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirPath := filepath.Join(s.root, e.Name())
		files, err := os.ReadDir(dirPath)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			id := strings.TrimSuffix(f.Name(), ".jsonl")
			if !strings.HasPrefix(id, prefix) {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			path := filepath.Join(dirPath, f.Name())
			found = SessionSummary{
				ID:           id,
				ProjectDir:   e.Name(),
				Path:         path,
				LastModified: info.ModTime(),
				Preview:      previewOf(path),
			}
			ok = true
		}
	}
	return found, ok
}

// ReadAll parses every record in the file at path, skipping malformed
// lines. Failure to open the file yields an empty slice, not an error.
func (s *Store) ReadAll(path string) []Record {
	recs, _ := ReadIncremental(path, 0)
	return recs
}

// ReadIncremental parses records appended after offset, returning them
// plus the new end-of-file byte offset. This is the building block both
// for the Watcher's tail reads and for full-file parses (offset 0).
func ReadIncremental(path string, offset int64) ([]Record, int64) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return nil, offset
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var records []Record
	pos := offset
	for scanner.Scan() {
		line := scanner.Bytes()
		pos += int64(len(line)) + 1
		rec, ok := ParseLine(line)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, pos
}

// PendingToolUses walks the tail of the file at path (last ~64 KiB) and
// returns the set of tool_use correlation ids introduced by assistant
// entries that have no later tool_result in the same window.
func PendingToolUses(path string) map[string]Block {
	records := tailRecords(path)
	pending := make(map[string]Block)
	for _, rec := range records {
		switch rec.Type {
		case KindAssistant:
			for _, b := range rec.Blocks() {
				if b.Type == BlockToolUse && b.ID != "" {
					pending[b.ID] = b
				}
			}
		case KindUser:
			for _, b := range rec.Blocks() {
				if b.Type == BlockToolResult && b.ToolUseID != "" {
					delete(pending, b.ToolUseID)
				}
			}
		}
	}
	return pending
}

// LastUserText returns the last real user text entry in the file's tail,
// used by the Watcher/Scanner takeover flow to resubmit a prompt.
func LastUserText(path string) string {
	records := tailRecords(path)
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.Type != KindUser || rec.IsMeta || rec.IsSidechain {
			continue
		}
		text := strings.TrimSpace(rec.Text())
		if text == "" || hasToolResultOnly(rec) {
			continue
		}
		return text
	}
	return ""
}

func hasToolResultOnly(rec Record) bool {
	blocks := rec.Blocks()
	if len(blocks) == 0 {
		return false
	}
	for _, b := range blocks {
		if b.Type != BlockToolResult {
			return false
		}
	}
	return true
}

// tailRecords reads and parses roughly the last tailScanBytes of path,
// tolerating a truncated first line (the seek point may land mid-line;
// such a partial line simply fails to parse and is skipped).
func tailRecords(path string) []Record {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	offset := info.Size() - tailScanBytes
	if offset < 0 {
		offset = 0
	}
	recs, _ := ReadIncremental(path, offset)
	return recs
}

// previewOf extracts the first real user text message from a session
// file, truncated to a short one-line preview, per spec.md §4.1.
func previewOf(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	const maxLines = 200
	lines := 0
	for scanner.Scan() && lines < maxLines {
		lines++
		rec, ok := ParseLine(scanner.Bytes())
		if !ok || rec.Type != KindUser || rec.IsMeta || rec.IsSidechain {
			continue
		}
		if hasToolResultOnly(rec) {
			continue
		}
		text := strings.TrimSpace(rec.Text())
		if text == "" || strings.HasPrefix(text, "<command-name>") {
			continue
		}
		text = strings.ReplaceAll(text, "\n", " ")
		if len(text) > previewMaxLen {
			text = text[:previewMaxLen]
		}
		return text
	}
	return ""
}
