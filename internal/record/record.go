// Package record parses load-test datasets into typed records.
//
// A dataset is a text file with one record per line and three fields in a
// fixed order: an arbitrary-precision integer id, a float64 index and a
// float32 value. There is no header row.
//
//	1,0.5,1.1
//	2,1.5,2.2
//
// Whitespace around a field is ignored, so "1, 0.5, 1.1" reads the same as
// the line above. Fields may be quoted as in RFC 4180 ("1","0.5","1.1"); a
// quote that does not open a field is malformed. The delimiter defaults to a
// comma and may be any single character except a double quote, CR or LF.
//
// Parsing aborts on the first malformed line; a partial batch is never
// returned.
package record

import (
	"fmt"
	"math/big"
	"strconv"
)

// Record は書き込み対象の1行分のデータ
// 解析後は不変として扱う（ID を変更してはならない）
type Record struct {
	ID    *big.Int
	Index float64
	Value float32
}

// New はレコードを作成する
func New(id *big.Int, index float64, value float32) Record {
	return Record{ID: id, Index: index, Value: value}
}

// Key はストアのキーとして使うIDの10進表現を返す
func (r Record) Key() string {
	if r.ID == nil {
		return ""
	}
	return r.ID.String()
}

// Payload は ID を除いた "index,value" 形式の値を返す
func (r Record) Payload() string {
	return strconv.FormatFloat(r.Index, 'g', -1, 64) + "," +
		strconv.FormatFloat(float64(r.Value), 'g', -1, 32)
}

// String はデータセットと同じ形式で出力する
func (r Record) String() string {
	return fmt.Sprintf("%s,%s", r.Key(), r.Payload())
}
