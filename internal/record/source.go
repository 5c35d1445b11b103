package record

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"bulkload/internal/logger"
)

var (
	// ErrSourceNotFound はデータセットが存在しない
	ErrSourceNotFound = errors.New("source not found")
	// ErrSourceUnreadable はデータセットを読み込めない
	ErrSourceUnreadable = errors.New("source unreadable")
	// ErrSourceMalformed はデータセットの行を解析できない
	ErrSourceMalformed = errors.New("source malformed")
	// ErrInvalidDelimiter は区切り文字として使えない文字が指定された
	ErrInvalidDelimiter = errors.New("invalid delimiter")
)

// DefaultDelimiter はフィールド区切り文字のデフォルト
const DefaultDelimiter = ','

// ValidDelimiter は r がフィールド区切り文字として使えるかを返す
// 引用符と改行は使えない
func ValidDelimiter(r rune) bool {
	switch r {
	case 0, '"', '\r', '\n':
		return false
	}
	return utf8.ValidRune(r) && r != utf8.RuneError
}

// ParseError は不正な行の位置と原因を保持する
type ParseError struct {
	Line  int
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%v: line %d: field %s: %v", ErrSourceMalformed, e.Line, e.Field, e.Err)
	}
	return fmt.Sprintf("%v: line %d: %v", ErrSourceMalformed, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is は ErrSourceMalformed との比較を可能にする
func (e *ParseError) Is(target error) bool {
	return target == ErrSourceMalformed
}

// Source はファイルからレコードを読み込む
type Source struct {
	path      string
	delimiter rune
}

// NewSource は新しい Source を作成する
// delimiter が 0 の場合はカンマを使用
func NewSource(path string, delimiter rune) *Source {
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}
	return &Source{path: path, delimiter: delimiter}
}

// Path はデータセットのパスを返す
func (s *Source) Path() string {
	return s.path
}

// Read はファイル全体を読み込んでレコードのスライスを返す
func (s *Source) Read(ctx context.Context) ([]Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Error("source", "unable to find file %s", s.path)
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, s.path)
		}
		logger.Error("source", "unable to open file %s: %v", s.path, err)
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	defer f.Close()

	records, err := Parse(ctx, f, s.delimiter)
	if err != nil {
		logger.Error("source", "failed to read %s: %v", s.path, err)
		return nil, err
	}

	logger.Info("source", "read in %d rows from %s", len(records), s.path)
	return records, nil
}

// ReadFile はカンマ区切りのデータセットを読み込む
func ReadFile(ctx context.Context, path string) ([]Record, error) {
	return NewSource(path, DefaultDelimiter).Read(ctx)
}

// Parse は r からレコードを解析する
// 最初の不正行で中断し、部分的な結果は返さない
func Parse(ctx context.Context, r io.Reader, delimiter rune) ([]Record, error) {
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}
	if !ValidDelimiter(delimiter) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDelimiter, delimiter)
	}

	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.FieldsPerRecord = 3
	reader.ReuseRecord = true

	var records []Record
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				return nil, &ParseError{Line: csvErr.Line, Err: csvErr.Err}
			}
			return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
		}

		line, _ := reader.FieldPos(0)
		rec, err := parseFields(line, fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

// parseFields は id, index, value の3フィールドを変換する
// 前後の空白は無視する
func parseFields(line int, fields []string) (Record, error) {
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	id, ok := new(big.Int).SetString(fields[0], 10)
	if !ok {
		return Record{}, &ParseError{Line: line, Field: "id", Err: fmt.Errorf("invalid integer %q", fields[0])}
	}

	index, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Record{}, &ParseError{Line: line, Field: "index", Err: err}
	}

	value, err := strconv.ParseFloat(fields[2], 32)
	if err != nil {
		return Record{}, &ParseError{Line: line, Field: "value", Err: err}
	}

	return New(id, index, float32(value)), nil
}
