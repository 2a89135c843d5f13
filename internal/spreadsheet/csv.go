package spreadsheet

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

const sniffSize = 64 * 1024

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type csvSource struct {
	file   *os.File
	reader *csv.Reader
}

// openCSV 打开 CSV；非 UTF-8 内容按 GB18030 解码
func openCSV(path string) (*csvSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "打开 CSV 文件失败")
	}

	br := bufio.NewReaderSize(f, sniffSize)
	peek, err := br.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		_ = f.Close()
		return nil, eris.Wrap(err, "读取 CSV 文件失败")
	}

	var r io.Reader = br
	switch {
	case bytes.HasPrefix(peek, utf8BOM):
		_, _ = br.Discard(len(utf8BOM))
	case !validUTF8Prefix(peek, len(peek) < sniffSize):
		r = transform.NewReader(br, simplifiedchinese.GB18030.NewDecoder())
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false
	return &csvSource{file: f, reader: cr}, nil
}

// validUTF8Prefix 允许缓冲区末尾被截断的多字节字符
func validUTF8Prefix(b []byte, complete bool) bool {
	if complete {
		return utf8.Valid(b)
	}
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if utf8.Valid(b) {
			return true
		}
		b = b[:len(b)-1]
	}
	return utf8.Valid(b)
}

func (c *csvSource) next() ([]string, bool, error) {
	rec, err := c.reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (c *csvSource) close() error {
	return c.file.Close()
}
