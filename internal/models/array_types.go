package models

import (
	"database/sql/driver"
	"sort"

	"github.com/lib/pq"
)

// SeatNumbers is a TEXT[] of seat numbers on a single trip
type SeatNumbers []string

// Value implements the driver.Valuer interface
func (a SeatNumbers) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return pq.Array([]string(a)).Value()
}

// Scan implements the sql.Scanner interface
func (a *SeatNumbers) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}
	slice := (*[]string)(a)
	return pq.Array(slice).Scan(src)
}

// Sorted returns a sorted copy, used to claim rows in a stable order
func (a SeatNumbers) Sorted() SeatNumbers {
	out := make(SeatNumbers, len(a))
	copy(out, a)
	sort.Strings(out)
	return out
}

// Missing returns the entries of a that are not present in have
func (a SeatNumbers) Missing(have []string) []string {
	seen := make(map[string]struct{}, len(have))
	for _, s := range have {
		seen[s] = struct{}{}
	}
	var missing []string
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}
