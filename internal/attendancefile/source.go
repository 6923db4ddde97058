// Package attendancefile reads attendance kept as wide per-subject CSV
// tables: one file per subject named <subject_id>.csv, one row per student
// and one column per session date.
package attendancefile

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"studentrisk/internal/features"
)

var keyColumns = []string{"student_code", "student_id", "code", "email"}

// Source serves attendance from a directory of subject files. Parsed files
// are cached until their size or modification time changes.
type Source struct {
	dir string

	mu     sync.Mutex
	tables map[uint]*subjectTable
}

type subjectTable struct {
	modTime time.Time
	size    int64
	rows    map[string][]features.AttendanceEntry
}

func New(dir string) *Source {
	return &Source{dir: dir, tables: make(map[uint]*subjectTable)}
}

// GetAttendance collects the student's cells across the subject files.
// A subject without a file contributes nothing.
func (s *Source) GetAttendance(ctx context.Context, st features.Student, subjectIDs []uint) ([]features.AttendanceEntry, error) {
	var out []features.AttendanceEntry
	for _, id := range subjectIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tbl, err := s.table(id)
		if err != nil {
			return nil, err
		}
		if tbl == nil {
			continue
		}
		out = append(out, tbl.lookup(st)...)
	}
	return out, nil
}

func (s *Source) path(subjectID uint) string {
	return filepath.Join(s.dir, strconv.FormatUint(uint64(subjectID), 10)+".csv")
}

func (s *Source) table(subjectID uint) (*subjectTable, error) {
	path := s.path(subjectID)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[subjectID]; ok && t.modTime.Equal(info.ModTime()) && t.size == info.Size() {
		return t, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()

	t, err := parseTable(file, subjectID)
	if err != nil {
		return nil, errors.Wrapf(err, "attendance file %s", path)
	}
	t.modTime = info.ModTime()
	t.size = info.Size()
	s.tables[subjectID] = t
	return t, nil
}

func (t *subjectTable) lookup(st features.Student) []features.AttendanceEntry {
	keys := []string{st.ExternalCode, st.Email}
	if st.ID != 0 {
		keys = append(keys, strconv.FormatUint(uint64(st.ID), 10))
	}
	for _, k := range keys {
		k = normalizeKey(k)
		if k == "" {
			continue
		}
		if rows, ok := t.rows[k]; ok {
			return rows
		}
	}
	return nil
}

type dateColumn struct {
	idx  int
	date time.Time
}

// parseTable reads one wide table. Unknown cell values are skipped; a
// missing student key column makes the whole file unusable.
func parseTable(r io.Reader, subjectID uint) (*subjectTable, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "unable to read header")
	}
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}

	keyIdx, ok := findColumn(normalizeHeaders(headers), keyColumns)
	if !ok {
		return nil, errors.New("missing student key column")
	}

	var dates []dateColumn
	for idx, h := range headers {
		if idx == keyIdx {
			continue
		}
		if d, err := parseDate(h); err == nil {
			dates = append(dates, dateColumn{idx: idx, date: d})
		}
	}

	t := &subjectTable{rows: make(map[string][]features.AttendanceEntry)}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read row")
		}
		key := normalizeKey(getValue(record, keyIdx))
		if key == "" {
			continue
		}
		for _, col := range dates {
			status, ok := features.ParseAttendanceStatus(getValue(record, col.idx))
			if !ok || status == features.StatusUnmarked {
				continue
			}
			t.rows[key] = append(t.rows[key], features.AttendanceEntry{
				SubjectID: subjectID,
				Date:      col.date,
				Status:    status,
			})
		}
	}
	return t, nil
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	layouts := []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
		"01-02-2006",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05Z07:00",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("unsupported date format: %s", value)
}

func normalizeHeaders(headers []string) map[string]int {
	result := make(map[string]int, len(headers))
	for idx, header := range headers {
		normalized := normalizeHeader(header)
		if _, exists := result[normalized]; !exists {
			result[normalized] = idx
		}
	}
	return result
}

func normalizeHeader(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.ReplaceAll(value, " ", "")
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}

func findColumn(headers map[string]int, names []string) (int, bool) {
	for _, name := range names {
		if idx, ok := headers[normalizeHeader(name)]; ok {
			return idx, true
		}
	}
	return -1, false
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func getValue(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
