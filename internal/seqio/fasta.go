package seqio

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Record is a single FASTA sequence. ID is the first whitespace-delimited
// token of the header line.
type Record struct {
	ID  string
	Seq []byte
}

const maxLineBytes = 16 * 1024 * 1024

// ScanFile streams records from a FASTA file, calling fn for each one.
// Scanning stops at the first error returned by fn.
func ScanFile(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open fasta: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var cur Record
	var seq []byte
	flush := func() error {
		if cur.ID == "" {
			return nil
		}
		cur.Seq = seq
		if err := fn(cur); err != nil {
			return err
		}
		cur = Record{}
		seq = nil
		return nil
	}
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		if strings.HasPrefix(line, ">") {
			if err := flush(); err != nil {
				return err
			}
			header := strings.TrimSpace(strings.TrimPrefix(line, ">"))
			if header == "" {
				return fmt.Errorf("empty fasta header in %s", path)
			}
			cur.ID = strings.Fields(header)[0]
			continue
		}
		if cur.ID == "" {
			// Leading junk before the first header is not a FASTA record.
			if strings.TrimSpace(line) == "" {
				continue
			}
			return fmt.Errorf("sequence data before header in %s", path)
		}
		seq = append(seq, []byte(strings.TrimSpace(line))...)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan fasta %s: %w", path, err)
	}
	return flush()
}

// ReadFile loads every record of a FASTA file into memory.
func ReadFile(path string) ([]Record, error) {
	var records []Record
	err := ScanFile(path, func(r Record) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// WriteFileAtomic writes records to path via a temp file + rename so a
// concurrent reader never observes a partially written file.
func WriteFileAtomic(path string, records []Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp fasta: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, r := range records {
		if _, err := fmt.Fprintf(w, ">%s\n%s\n", r.ID, r.Seq); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("write fasta record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("flush fasta: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp fasta: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename temp fasta: %w", err)
	}
	return nil
}

// CountRecords returns the number of records in a FASTA file. A missing
// file counts as zero records.
func CountRecords(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open fasta: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	count := 0
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), ">") {
			count++
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("scan fasta %s: %w", path, err)
	}
	return count, nil
}

// GenomeID returns the genome portion of a reformatted record ID
// (everything before the first '|', or the whole ID when unprefixed).
func GenomeID(recordID string) string {
	if i := strings.IndexByte(recordID, '|'); i >= 0 {
		return recordID[:i]
	}
	return recordID
}
