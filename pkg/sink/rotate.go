package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SizeFile rotates when the file would exceed maxBytes, keeping up to
// backups numbered copies (app.log.1 is the most recent).
type SizeFile struct {
	path     string
	maxBytes int64
	backups  int
	file     *os.File
	size     int64
}

// NewSizeFile opens a size-rotated sink at path.
func NewSizeFile(path string, maxBytes int64, backups int) (*SizeFile, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	return &SizeFile{
		path:     path,
		maxBytes: maxBytes,
		backups:  backups,
		file:     f,
		size:     info.Size(),
	}, nil
}

// WriteLine appends one line, rotating first if the write would exceed the
// size budget.
func (s *SizeFile) WriteLine(line []byte) error {
	if s.maxBytes > 0 && s.size+int64(len(line))+1 > s.maxBytes && s.size > 0 {
		if err := s.rotate(); err != nil {
			return err
		}
	}
	n, err := fmt.Fprintln(s.file, string(line))
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(s.path), err)
	}
	s.size += int64(n)
	return nil
}

// rotate shifts path.N-1 -> path.N for each backup slot, then renames the
// live file to path.1 and reopens a fresh one.
func (s *SizeFile) rotate() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close for rotation: %w", err)
	}

	if s.backups > 0 {
		last := fmt.Sprintf("%s.%d", s.path, s.backups)
		_ = os.Remove(last)
		for i := s.backups - 1; i >= 1; i-- {
			from := fmt.Sprintf("%s.%d", s.path, i)
			to := fmt.Sprintf("%s.%d", s.path, i+1)
			if _, err := os.Stat(from); err == nil {
				_ = os.Rename(from, to)
			}
		}
		if err := os.Rename(s.path, s.path+".1"); err != nil {
			s.file, _ = openAppend(s.path)
			return fmt.Errorf("rotate %s: %w", filepath.Base(s.path), err)
		}
	} else {
		_ = os.Remove(s.path)
	}

	f, err := openAppend(s.path)
	if err != nil {
		return err
	}
	s.file = f
	s.size = 0
	return nil
}

// Close closes the underlying file.
func (s *SizeFile) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// DailyFile rotates at day boundaries, renaming the old file with a date
// suffix (audit.log.2026-08-29) and pruning suffixed backups beyond the
// retention count.
type DailyFile struct {
	path    string
	backups int
	file    *os.File
	day     string

	now func() time.Time // overridable in tests
}

// NewDailyFile opens a daily-rotated sink at path keeping backups days.
func NewDailyFile(path string, backups int) (*DailyFile, error) {
	d := &DailyFile{path: path, backups: backups, now: time.Now}
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	d.file = f
	d.day = d.today()

	// An existing file from an earlier day rotates before the first write.
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		if mday := info.ModTime().Format("2006-01-02"); mday != d.day {
			d.day = mday
		}
	}
	return d, nil
}

func (d *DailyFile) today() string {
	return d.now().UTC().Format("2006-01-02")
}

// WriteLine appends one line, rotating first when the day has changed.
func (d *DailyFile) WriteLine(line []byte) error {
	if today := d.today(); today != d.day {
		if err := d.rotate(); err != nil {
			return err
		}
		d.day = today
	}
	if _, err := fmt.Fprintln(d.file, string(line)); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(d.path), err)
	}
	return nil
}

func (d *DailyFile) rotate() error {
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("close for rotation: %w", err)
	}

	rotated := d.path + "." + d.day
	if err := os.Rename(d.path, rotated); err != nil {
		d.file, _ = openAppend(d.path)
		return fmt.Errorf("rotate %s: %w", filepath.Base(d.path), err)
	}

	f, err := openAppend(d.path)
	if err != nil {
		return err
	}
	d.file = f

	d.prune()
	return nil
}

// prune deletes date-suffixed backups beyond the retention count, oldest
// first.
func (d *DailyFile) prune() {
	if d.backups <= 0 {
		return
	}
	matches, err := filepath.Glob(d.path + ".*")
	if err != nil {
		return
	}
	var dated []string
	prefix := filepath.Base(d.path) + "."
	for _, m := range matches {
		suffix := strings.TrimPrefix(filepath.Base(m), prefix)
		if _, err := time.Parse("2006-01-02", suffix); err == nil {
			dated = append(dated, m)
		}
	}
	if len(dated) <= d.backups {
		return
	}
	sort.Strings(dated)
	for _, old := range dated[:len(dated)-d.backups] {
		_ = os.Remove(old)
	}
}

// Close closes the underlying file.
func (d *DailyFile) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
