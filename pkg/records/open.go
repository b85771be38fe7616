package records

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format identifies a source codec.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DecodeConfig selects and configures a codec.
type DecodeConfig struct {
	// Format forces a codec. Empty detects from the file extension.
	Format Format

	Dialect    Dialect
	SkipHeader bool

	// Sheet names the XLSX worksheet. Empty selects the first sheet.
	Sheet string
}

// DetectFormat returns the codec for path based on its extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	default:
		return FormatCSV
	}
}

// Open opens path with the configured codec.
func Open(path string, cfg DecodeConfig) (Source, error) {
	format := cfg.Format
	if format == "" {
		format = DetectFormat(path)
	}
	switch format {
	case FormatCSV:
		return OpenCSV(path, cfg.Dialect, cfg.SkipHeader)
	case FormatXLSX:
		return OpenXLSX(path, cfg.Sheet, cfg.SkipHeader)
	default:
		return nil, fmt.Errorf("unsupported record format %q", format)
	}
}

// EstimateCount returns a best-effort record count for the file at path:
// the number of lines, minus one when skipHeader is set. XLSX workbooks are
// counted by rows of the first sheet. Returns -1 when the file cannot be read.
//
// Quoted fields spanning lines make the estimate an upper bound.
func EstimateCount(path string, skipHeader bool) int64 {
	var (
		n   int64
		err error
	)
	if DetectFormat(path) == FormatXLSX {
		n, err = countXLSXRows(path)
	} else {
		n, err = countLines(path)
	}
	if err != nil {
		return -1
	}
	if skipHeader && n > 0 {
		n--
	}
	return n
}

func countLines(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 64*1024)
	buf := make([]byte, 64*1024)
	var (
		lines   int64
		last    byte
		sawData bool
	)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			lines += int64(bytes.Count(buf[:n], []byte{'\n'}))
			last = buf[n-1]
			sawData = true
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if sawData && last != '\n' {
		lines++
	}
	return lines, nil
}

func countXLSXRows(path string) (int64, error) {
	src, err := OpenXLSX(path, "", false)
	if err != nil {
		return 0, err
	}
	defer func() { _ = src.Close() }()

	var n int64
	for {
		_, err := src.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil && !IsDecodeError(err) {
			return 0, err
		}
		n++
	}
}
