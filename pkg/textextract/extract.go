// Package textextract splits uploaded files into text segments: one per
// PDF page, per DOCX paragraph or per non-empty line of plain text.
package textextract

import (
	"archive/zip"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

type Extracted struct {
	Segments []string
	Pages    int
	Type     string
}

// Extract reads the file and returns its non-empty segments. fileType is an
// extension, a bare name or a MIME type.
func Extract(data io.ReaderAt, size int64, fileType string) (*Extracted, error) {
	switch strings.ToLower(fileType) {
	case ".pdf", "pdf", "application/pdf":
		return extractPDF(data, size)
	case ".docx", "docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return extractDOCX(data, size)
	case ".txt", "txt", "text/plain":
		return extractTXT(data, size)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", fileType)
	}
}

// TypeOf picks the file type from a file name, falling back to the
// declared content type.
func TypeOf(filename, contentType string) string {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		return ext
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(contentType)
}

func SupportedTypes() []string {
	return []string{".pdf", ".docx", ".txt"}
}

func extractPDF(data io.ReaderAt, size int64) (*Extracted, error) {
	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	numPages := reader.NumPage()
	out := &Extracted{Pages: numPages, Type: "pdf"}
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			out.Segments = append(out.Segments, text)
		}
	}
	return out, nil
}

func extractDOCX(data io.ReaderAt, size int64) (*Extracted, error) {
	reader, err := zip.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open DOCX: %w", err)
	}

	for _, f := range reader.File {
		if filepath.Base(f.Name) != "document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open document.xml: %w", err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read document.xml: %w", err)
		}

		out := &Extracted{Pages: 1, Type: "docx"}
		for _, para := range strings.Split(string(content), "</w:p>") {
			if text := stripXMLTags(para); text != "" {
				out.Segments = append(out.Segments, text)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("open DOCX: document.xml not found")
}

func extractTXT(data io.ReaderAt, size int64) (*Extracted, error) {
	out := &Extracted{Pages: 1, Type: "txt"}

	scanner := bufio.NewScanner(io.NewSectionReader(data, 0, size))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := string(bytes.TrimSpace(scanner.Bytes()))
		if line != "" {
			out.Segments = append(out.Segments, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read TXT: %w", err)
	}
	return out, nil
}

func stripXMLTags(s string) string {
	var result strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			result.WriteRune(' ')
		case !inTag:
			result.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(result.String()), " ")
}
