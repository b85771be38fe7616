package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractDOCX pulls paragraph text from word/document.xml.
func extractDOCX(ctx context.Context, path string, meta map[string]string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer func() { _ = zr.Close() }()

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", errors.New("docx: word/document.xml not found")
	}

	rc, err := body.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()

	var (
		out  strings.Builder
		para strings.Builder
		inT  bool
	)
	dec := xml.NewDecoder(rc)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inT = true
			case "tab":
				para.WriteByte('\t')
			case "br":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				if s := strings.TrimRight(para.String(), " "); s != "" {
					out.WriteString(s)
					out.WriteByte('\n')
				}
				para.Reset()
			}
		case xml.CharData:
			if inT {
				para.Write(t)
			}
		}
	}
	meta[MetaContentType] = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	return strings.TrimRight(out.String(), "\n"), nil
}

// extractXLSX renders every sheet as tab-separated rows under a heading.
func extractXLSX(ctx context.Context, path string, meta map[string]string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	var out strings.Builder
	for i, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if i > 0 {
			out.WriteByte('\n')
		}
		out.WriteString("## ")
		out.WriteString(sheet)
		out.WriteByte('\n')
		for _, row := range rows {
			out.WriteString(strings.Join(row, "\t"))
			out.WriteByte('\n')
		}
	}
	meta[MetaSheets] = strconv.Itoa(len(sheets))
	meta[MetaContentType] = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	return strings.TrimRight(out.String(), "\n"), nil
}
