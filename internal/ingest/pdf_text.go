package ingest

import (
	"bytes"
	"fmt"
	"strings"

	rpdf "rsc.io/pdf"
)

var pdfMagic = []byte("%PDF-")

func isPDF(body []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(body, " \t\r\n"), pdfMagic)
}

// extractPDFText concatenates the text fragments of every page. The parser
// panics on some malformed files, so panics are turned into errors.
func extractPDFText(content []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			b.WriteString(fragment.S)
		}
		b.WriteString("\n")
		if b.Len() > MaxDetailRunes*4 {
			break
		}
	}
	return b.String(), nil
}
