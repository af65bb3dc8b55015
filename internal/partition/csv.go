package partition

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Header is the first line of every table this package writes.
const Header = "#Name,Type,SubType,Offset,Size,Flags"

var header = []string{"#Name", "Type", "SubType", "Offset", "Size", "Flags"}

// Column positions within a table row.
const (
	colName = iota
	colType
	colSubType
	colOffset
	colSize
	colFlags
)

// Parse reads a comma-delimited partition table. The header and any other
// line starting with '#' are skipped. Offset may be empty (sequential);
// Size is required. Numbers are 0x-prefixed hex or decimal, optionally
// suffixed with K or M.
func Parse(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var table Table
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read partition table: %w", err)
		}
		line, _ := cr.FieldPos(0)

		entry, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		table = append(table, entry)
	}

	return table, nil
}

func parseRecord(record []string) (Entry, error) {
	if len(record) < colSize+1 {
		return Entry{}, fmt.Errorf("expected at least %d fields, got %d", colSize+1, len(record))
	}
	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}

	e := Entry{
		Name:    record[colName],
		Type:    record[colType],
		SubType: record[colSubType],
	}
	if e.Name == "" {
		return Entry{}, errors.New("partition name is empty")
	}
	if len(record) > colFlags {
		e.Flags = record[colFlags]
	}

	if s := record[colOffset]; s != "" {
		v, err := ParseNumber(s)
		if err != nil {
			return Entry{}, fmt.Errorf("partition %q: invalid offset: %w", e.Name, err)
		}
		e.Offset = Explicit(v)
	}

	s := record[colSize]
	if s == "" {
		return Entry{}, fmt.Errorf("partition %q: size is required", e.Name)
	}
	size, err := ParseNumber(s)
	if err != nil {
		return Entry{}, fmt.Errorf("partition %q: invalid size: %w", e.Name, err)
	}
	e.Size = size

	return e, nil
}

// ParseNumber parses a table number: "0x1000", "4096", "4K" or "1M".
func ParseNumber(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, errors.New("empty number")
	}

	var mult uint64 = 1
	switch {
	case strings.HasSuffix(s, "k"):
		mult = 1024
		s = strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult = 1024 * 1024
		s = strings.TrimSuffix(s, "m")
	}

	var (
		v   uint64
		err error
	)
	if hex, ok := strings.CutPrefix(s, "0x"); ok {
		v, err = strconv.ParseUint(hex, 16, 64)
	} else {
		v, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	if v > math.MaxUint64/mult {
		return 0, fmt.Errorf("number %q overflows 64 bits", s)
	}

	return v * mult, nil
}

// Write serializes the table with the standard header. Offsets and sizes are
// written as lowercase 0x-prefixed hex; sequential offsets are left empty.
func Write(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, e := range t {
		record := []string{
			e.Name,
			e.Type,
			e.SubType,
			e.Offset.String(),
			formatHex(e.Size),
			e.Flags,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write partition %q: %w", e.Name, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
