package expense

import (
	"html"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const timestampLayout = "02/01/2006 15:04:05"

// Formatter renders resolved records as Telegram HTML messages.
//
// Now is injectable so tests get stable detection timestamps; nil means
// time.Now.
type Formatter struct {
	Schema   Schema
	Currency string
	Now      func() time.Time
}

func NewFormatter(schema Schema, currency string) *Formatter {
	if len(schema) == 0 {
		schema = DefaultSchema()
	}
	return &Formatter{Schema: schema, Currency: currency}
}

// Render produces the notification text for one record.
//
// Shape (mirrors the sheet-provisioning headers):
//
//	🆕 Dòng mới được thêm vào Google Sheets (Dòng #7)
//
//	📝 Ngày: 01/02/2026
//	💰 Số tiền: 200,000 VNĐ
//	...
//	⏰ Thời gian phát hiện: 01/02/2026 10:30:00
//
// Missing fields are omitted. An unparseable amount is shown verbatim.
func (f *Formatter) Render(rec Record) string {
	var b strings.Builder
	b.WriteString("🆕 <b>Dòng mới được thêm vào Google Sheets</b> (Dòng #")
	b.WriteString(strconv.FormatInt(rec.RowIndex, 10))
	b.WriteString(")\n\n")

	for _, spec := range rec.order {
		v, ok := rec.Get(spec.Key)
		if !ok {
			continue
		}
		if spec.Key == FieldAmount {
			if n, ok := ParseAmount(v); ok {
				v = humanize.Comma(n)
				if cur := strings.TrimSpace(f.Currency); cur != "" {
					v += " " + cur
				}
			}
		}
		b.WriteString(spec.Emoji)
		b.WriteString(" <b>")
		b.WriteString(html.EscapeString(spec.Label))
		b.WriteString("</b>: ")
		b.WriteString(html.EscapeString(v))
		b.WriteString("\n")
	}

	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	b.WriteString("\n⏰ Thời gian phát hiện: ")
	b.WriteString(now().Format(timestampLayout))
	return b.String()
}

// ParseAmount reads a cell like "200000", "200,000" or "200000.50" and
// returns the rounded integral amount. Returns false for anything that is
// not a number, so the caller can fall back to the raw cell.
func ParseAmount(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return int64(math.Round(v)), true
}
