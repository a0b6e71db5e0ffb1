package ingest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Row is one parsed RF2 line, header name to field value. Refset files
// carry a variable tail of additional fields identified by header names;
// Row captures those the same way as the fixed columns.
type Row map[string]string

// ArchiveFile streams the rows of one RF2 file: a header line naming
// tab-separated columns, followed by one row per line.
type ArchiveFile struct {
	scanner *bufio.Scanner
	header  []string
	lineNum int
}

// NewArchiveFile wraps r as an RF2 tab-separated file, reading and
// validating the header line immediately.
func NewArchiveFile(r io.Reader) (*ArchiveFile, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading RF2 header: %w", err)
		}
		return nil, fmt.Errorf("empty RF2 file: missing header line")
	}
	header := strings.Split(scanner.Text(), "\t")
	return &ArchiveFile{scanner: scanner, header: header, lineNum: 1}, nil
}

// Next returns the next row, or ok=false at end of file.
func (f *ArchiveFile) Next() (Row, bool, error) {
	for f.scanner.Scan() {
		f.lineNum++
		line := f.scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		row := make(Row, len(f.header))
		for i, name := range f.header {
			if i < len(fields) {
				row[name] = fields[i]
			} else {
				row[name] = ""
			}
		}
		return row, true, nil
	}
	if err := f.scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("scanning RF2 line %d: %w", f.lineNum+1, err)
	}
	return nil, false, nil
}
