package moex

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// ISS answers are spreadsheet-like: every block is a "columns" array plus
// untyped "data" rows. Offsets must be resolved by name per response,
// positional order is not stable across calls.
type table struct {
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
}

func (t *table) index(name string) (int, error) {
	for i, c := range t.Columns {
		if c == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: no column %q", ErrMalformed, name)
}

func (t *table) firstRow() ([]any, error) {
	if len(t.Data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrMalformed)
	}
	return t.Data[0], nil
}

// stringAt returns "" for null cells and cells of other types.
func stringAt(row []any, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	s, _ := row[idx].(string)
	return s
}

// floatAt returns 0 for null cells; ISS encodes "no price" as null.
func floatAt(row []any, idx int) float64 {
	if idx < 0 || idx >= len(row) {
		return 0
	}
	f, _ := row[idx].(float64)
	return f
}

type securityResponse struct {
	Description table `json:"description"`
	Boards      table `json:"boards"`
}

type marketResponse struct {
	Securities table `json:"securities"`
	Marketdata table `json:"marketdata"`
}

type fixResponse struct {
	Marketdata table `json:"marketdata"`
}

func decode(raw []byte, out any) error {
	if err := sonic.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	return nil
}
