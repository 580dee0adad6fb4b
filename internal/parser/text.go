package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/dgallion1/docenrich/internal/schema"
)

// TextParser handles plain text files. Runs of blank lines collapse to a
// single paragraph break.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*schema.Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var paragraphs []string
	var current strings.Builder

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if strings.TrimSpace(line) == "" {
			if current.Len() > 0 {
				paragraphs = append(paragraphs, current.String())
				current.Reset()
			}
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		paragraphs = append(paragraphs, current.String())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	o := &outline{title: baseName(filename, ".txt")}
	for _, para := range paragraphs {
		o.sections = append(o.sections, &section{text: para})
	}
	return o.document(filename, "txt"), nil
}
