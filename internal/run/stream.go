package run

import (
	"bufio"
	"io"
	"strings"
	"unicode"

	textunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	readBufferSize = 64 * 1024
	// maxLineBytes bounds a single line; the rest of an oversized line is
	// consumed and dropped.
	maxLineBytes = 1 << 20
)

// lineReader decodes the merged child stream into lines. Invalid UTF-8 is
// replaced with U+FFFD instead of failing the read.
type lineReader struct {
	r *bufio.Reader
}

func newLineReader(src io.Reader) *lineReader {
	dec := transform.NewReader(src, textunicode.UTF8.NewDecoder())
	return &lineReader{r: bufio.NewReaderSize(dec, readBufferSize)}
}

// Next returns the next line without its terminator and trailing
// whitespace. At end of stream it returns any unterminated tail together
// with the error; ok is false when there is no line to deliver.
func (l *lineReader) Next() (line string, ok bool, err error) {
	var buf []byte
	for {
		frag, isPrefix, rerr := l.r.ReadLine()
		if room := maxLineBytes - len(buf); room > 0 {
			if len(frag) > room {
				frag = frag[:room]
			}
			buf = append(buf, frag...)
		}
		if rerr != nil {
			return clean(buf), len(buf) > 0, rerr
		}
		if !isPrefix {
			return clean(buf), true, nil
		}
	}
}

func clean(b []byte) string {
	s := strings.ToValidUTF8(string(b), "\uFFFD")
	return strings.TrimRightFunc(s, unicode.IsSpace)
}
