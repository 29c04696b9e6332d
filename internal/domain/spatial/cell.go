// Package spatial bins incidents into hexagonal H3 cells and exposes the cell
// helpers other components use for ids and neighbourhoods.
package spatial

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/uber/h3-go/v4"

	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

// Resolution is an H3 resolution restricted to the levels the engine serves.
type Resolution int

const (
	ResolutionCity         Resolution = 7
	ResolutionDistrict     Resolution = 8
	ResolutionNeighborhood Resolution = 9
	ResolutionStreet       Resolution = 10
)

var resolutionNames = map[Resolution]string{
	ResolutionCity:         "city",
	ResolutionDistrict:     "district",
	ResolutionNeighborhood: "neighborhood",
	ResolutionStreet:       "street",
}

// Resolutions lists the supported levels from coarse to fine.
func Resolutions() []Resolution {
	return []Resolution{ResolutionCity, ResolutionDistrict, ResolutionNeighborhood, ResolutionStreet}
}

func (r Resolution) Valid() bool {
	_, ok := resolutionNames[r]
	return ok
}

func (r Resolution) String() string {
	if n, ok := resolutionNames[r]; ok {
		return n
	}
	return fmt.Sprintf("resolution(%d)", int(r))
}

// ParseResolution accepts a level number ("9") or name ("neighborhood").
func ParseResolution(s string) (Resolution, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		r := Resolution(n)
		if r.Valid() {
			return r, nil
		}
	}
	for r, name := range resolutionNames {
		if name == s {
			return r, nil
		}
	}
	return 0, errors.Newf(errors.ErrCodeInvalidResolution, "unsupported resolution %q; expected 7-10 or city|district|neighborhood|street", s)
}

// CellID is the H3 index of a cell in its canonical hex string form.
type CellID string

// CellFor returns the cell containing p at resolution r.  The result depends
// only on (p, r).
func CellFor(p geo.Point, r Resolution) (CellID, error) {
	if !r.Valid() {
		return "", errors.Newf(errors.ErrCodeInvalidResolution, "unsupported resolution %d", int(r))
	}
	if !p.Valid() {
		return "", errors.New(errors.ErrCodeInvalidCoordinate, "invalid coordinates").WithDetail(p.String())
	}
	c := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lon), int(r))
	return CellID(c.String()), nil
}

// MustCellFor is CellFor for callers that already validated their inputs.
func MustCellFor(p geo.Point, r Resolution) CellID {
	id, err := CellFor(p, r)
	if err != nil {
		panic(err)
	}
	return id
}

func parseCell(id CellID) (h3.Cell, error) {
	c := h3.Cell(h3.IndexFromString(string(id)))
	if !c.IsValid() {
		return 0, errors.Newf(errors.ErrCodeInvalidCell, "invalid cell id %q", id)
	}
	return c, nil
}

// CellCenter returns the centre point of the cell.
func CellCenter(id CellID) (geo.Point, error) {
	c, err := parseCell(id)
	if err != nil {
		return geo.Point{}, err
	}
	ll := h3.CellToLatLng(c)
	return geo.Point{Lat: ll.Lat, Lon: ll.Lng}, nil
}

// CellResolution returns the resolution encoded in the cell id.
func CellResolution(id CellID) (Resolution, error) {
	c, err := parseCell(id)
	if err != nil {
		return 0, err
	}
	return Resolution(c.Resolution()), nil
}

// Neighbors returns every cell within k rings of id, excluding id itself,
// sorted by id.
func Neighbors(id CellID, k int) ([]CellID, error) {
	c, err := parseCell(id)
	if err != nil {
		return nil, err
	}
	if k < 0 {
		return nil, errors.InvalidParam("ring distance must be non-negative")
	}
	disk := h3.GridDisk(c, k)
	out := make([]CellID, 0, len(disk))
	for _, n := range disk {
		if n == c || n == 0 {
			continue
		}
		out = append(out, CellID(n.String()))
	}
	sortCells(out)
	return out, nil
}
