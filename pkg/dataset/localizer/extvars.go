// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package localizer

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const joinKey = "subject_id"

// table is a parsed ';'-separated export with normalized column names.
type table struct {
	columns []string
	rows    [][]string
}

func readTable(fs afero.Fs, path string) (*table, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseTable(f)
}

func parseTable(r io.Reader) (*table, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	t := &table{columns: make([]string, len(header))}
	for i, h := range header {
		t.columns[i] = columnName(h)
	}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

// columnName lower-cases a header and replaces spaces with underscores.
func columnName(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.Join(strings.Fields(h), "_")
}

func (t *table) index(col string) int {
	for i, c := range t.columns {
		if c == col {
			return i
		}
	}
	return -1
}

func (t *table) keyed(key int) map[string][]string {
	out := make(map[string][]string, len(t.rows))
	for _, r := range t.rows {
		if key < len(r) {
			out[strings.TrimSpace(r[key])] = r
		}
	}
	return out
}

// joinTables inner-joins a and b on subject_id, sorted by subject. Columns
// present in both get a "1" or "2" suffix.
func joinTables(a, b *table) ([]map[string]string, error) {
	ka, kb := a.index(joinKey), b.index(joinKey)
	if ka < 0 || kb < 0 {
		return nil, fmt.Errorf("both exports need a %s column", joinKey)
	}

	shared := make(map[string]bool)
	for _, c := range a.columns {
		if c != joinKey && b.index(c) >= 0 {
			shared[c] = true
		}
	}
	name := func(col, suffix string) string {
		if shared[col] {
			return col + suffix
		}
		return col
	}

	right := b.keyed(kb)
	left := a.keyed(ka)
	keys := make([]string, 0, len(left))
	for k := range left {
		if _, ok := right[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		row := map[string]string{joinKey: k}
		for i, v := range left[k] {
			if i < len(a.columns) && i != ka {
				row[name(a.columns[i], "1")] = v
			}
		}
		for i, v := range right[k] {
			if i < len(b.columns) && i != kb {
				row[name(b.columns[i], "2")] = v
			}
		}
		out = append(out, row)
	}
	return out, nil
}
