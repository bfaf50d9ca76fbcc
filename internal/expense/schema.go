// Package expense maps raw sheet rows onto the expense-ledger schema and
// renders them as Telegram notifications.
package expense

import (
	"strings"

	"sheetwatch/internal/sheet"
)

// FieldKey names a semantic column role.
type FieldKey string

const (
	FieldDate        FieldKey = "date"
	FieldDescription FieldKey = "description"
	FieldAmount      FieldKey = "amount"
	FieldCategory    FieldKey = "category"
	FieldPayer       FieldKey = "payer"
	FieldNote        FieldKey = "note"
)

// FieldSpec binds a named field to a column position.
// Label and Emoji are what the rendered notification shows.
type FieldSpec struct {
	Key   FieldKey
	Label string
	Emoji string
	Col   int
}

// Schema is an ordered set of field specs. Columns beyond the schema are
// ignored; rows shorter than the schema yield missing fields, not errors.
type Schema []FieldSpec

// DefaultSchema matches the ledger layout the sheet is provisioned with:
// [Ngày, Mô tả, Số tiền, Danh mục, Người chi, Ghi chú].
func DefaultSchema() Schema {
	return Schema{
		{Key: FieldDate, Label: "Ngày", Emoji: "📝", Col: 0},
		{Key: FieldDescription, Label: "Mô tả", Emoji: "📝", Col: 1},
		{Key: FieldAmount, Label: "Số tiền", Emoji: "💰", Col: 2},
		{Key: FieldCategory, Label: "Danh mục", Emoji: "📝", Col: 3},
		{Key: FieldPayer, Label: "Người chi", Emoji: "👤", Col: 4},
		{Key: FieldNote, Label: "Ghi chú", Emoji: "📝", Col: 5},
	}
}

// Record is one row resolved against a schema.
type Record struct {
	RowIndex int64
	fields   map[FieldKey]string
	order    []FieldSpec
}

// Resolve maps a raw row onto the schema. Empty and absent cells both count
// as missing so the renderer can omit them.
func (s Schema) Resolve(row sheet.Row) Record {
	fields := make(map[FieldKey]string, len(s))
	for _, f := range s {
		v := strings.TrimSpace(row.Cell(f.Col))
		if v != "" {
			fields[f.Key] = v
		}
	}
	return Record{RowIndex: row.Index, fields: fields, order: s}
}

// Get returns the field value and whether it was present.
func (r Record) Get(key FieldKey) (string, bool) {
	v, ok := r.fields[key]
	return v, ok
}
