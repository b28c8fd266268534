package weather

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyTable is returned when a conditions file holds no observations.
var ErrEmptyTable = errors.New("weather: no observations")

type observation struct {
	t time.Time
	c Conditions
}

// Table answers from recorded observations: the most recent observation at
// or before t, or dry conditions before the first one.
type Table struct {
	obs []observation
}

// LoadTableFile reads a conditions CSV from path.
func LoadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open weather table: %w", err)
	}
	defer f.Close()
	return LoadTable(f)
}

// LoadTable parses CSV with a header row "time,rain,wind_ms". Time is RFC
// 3339, rain accepts 0/1 or true/false, and wind_ms may be empty.
func LoadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyTable
	}
	if err != nil {
		return nil, fmt.Errorf("read weather header: %w", err)
	}
	cols, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var obs []observation
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read weather line %d: %w", line, err)
		}
		o, err := parseObservation(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("weather line %d: %w", line, err)
		}
		obs = append(obs, o)
	}
	if len(obs) == 0 {
		return nil, ErrEmptyTable
	}

	sort.SliceStable(obs, func(i, j int) bool { return obs[i].t.Before(obs[j].t) })
	return &Table{obs: obs}, nil
}

type columns struct{ time, rain, wind int }

func columnIndex(header []string) (columns, error) {
	cols := columns{time: -1, rain: -1, wind: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "time":
			cols.time = i
		case "rain":
			cols.rain = i
		case "wind_ms":
			cols.wind = i
		}
	}
	if cols.time < 0 || cols.rain < 0 {
		return cols, fmt.Errorf("weather header %v: need time and rain columns", header)
	}
	return cols, nil
}

func parseObservation(rec []string, cols columns) (observation, error) {
	var o observation
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(rec[cols.time]))
	if err != nil {
		return o, fmt.Errorf("parse time: %w", err)
	}
	o.t = t.UTC()

	rain, err := strconv.ParseBool(strings.TrimSpace(rec[cols.rain]))
	if err != nil {
		return o, fmt.Errorf("parse rain: %w", err)
	}
	o.c.Rain = rain

	if cols.wind >= 0 && cols.wind < len(rec) {
		if s := strings.TrimSpace(rec[cols.wind]); s != "" {
			w, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return o, fmt.Errorf("parse wind_ms: %w", err)
			}
			o.c.WindMS = w
		}
	}
	return o, nil
}

// Len returns the number of observations.
func (tb *Table) Len() int { return len(tb.obs) }

// At implements Source.
func (tb *Table) At(t time.Time) Conditions {
	i := sort.Search(len(tb.obs), func(i int) bool { return tb.obs[i].t.After(t) })
	if i == 0 {
		return Conditions{}
	}
	return tb.obs[i-1].c
}
