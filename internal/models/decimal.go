package models

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Decimal is a fixed-point value with exactly two decimal places, used for
// every marks-like field so tallying never drifts the way float64 would.
// It stores as a string column (numeric(10,2) on the postgres side) and
// keeps its value internally as hundredths of a unit.
type Decimal struct {
	hundredths int64
}

// NewDecimal builds a Decimal from a float, rounding to the nearest cent.
func NewDecimal(v float64) Decimal {
	return Decimal{hundredths: int64(math.Round(v * 100))}
}

// DecimalFromHundredths builds a Decimal directly from its integer hundredths.
func DecimalFromHundredths(h int64) Decimal {
	return Decimal{hundredths: h}
}

// Float64 returns the value as a float64, for arithmetic contexts that
// tolerate it (display, rough comparisons outside the tally path).
func (d Decimal) Float64() float64 {
	return float64(d.hundredths) / 100
}

// Add returns d+o.
func (d Decimal) Add(o Decimal) Decimal {
	return Decimal{hundredths: d.hundredths + o.hundredths}
}

// Sub returns d-o.
func (d Decimal) Sub(o Decimal) Decimal {
	return Decimal{hundredths: d.hundredths - o.hundredths}
}

// Abs returns the absolute value.
func (d Decimal) Abs() Decimal {
	if d.hundredths < 0 {
		return Decimal{hundredths: -d.hundredths}
	}
	return d
}

// Cmp returns -1, 0, 1 as d is less than, equal to, or greater than o.
func (d Decimal) Cmp(o Decimal) int {
	switch {
	case d.hundredths < o.hundredths:
		return -1
	case d.hundredths > o.hundredths:
		return 1
	default:
		return 0
	}
}

// LessOrEqual reports whether d <= o.
func (d Decimal) LessOrEqual(o Decimal) bool { return d.Cmp(o) <= 0 }

func (d Decimal) String() string {
	sign := ""
	h := d.hundredths
	if h < 0 {
		sign = "-"
		h = -h
	}
	return fmt.Sprintf("%s%d.%02d", sign, h/100, h%100)
}

// Value implements driver.Valuer for GORM/database-sql.
func (d Decimal) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements sql.Scanner.
func (d *Decimal) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case nil:
		*d = Decimal{}
		return nil
	default:
		return errors.Newf("decimal: unsupported scan type %T", src)
	}
	parsed, err := ParseDecimal(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDecimal parses a fixed-point decimal string like "12.50" or "-3.1".
func ParseDecimal(s string) (Decimal, error) {
	if s == "" {
		return Decimal{}, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Decimal{}, errors.Wrapf(err, "decimal: invalid literal %q", s)
	}
	return NewDecimal(f), nil
}

// GormDataType tells GORM the underlying column type.
func (Decimal) GormDataType() string {
	return "numeric(10,2)"
}
