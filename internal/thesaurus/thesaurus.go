// Package thesaurus loads the Italian municipality (comune) registry from
// the ISTAT administrative-boundary shapefile and matches comune names in
// free text, accent- and case-insensitively.
package thesaurus

import (
	"sort"
	"strings"
	"unicode"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Comune is one municipality with the centroid of its boundary polygon.
type Comune struct {
	Name     string
	Province string
	Centroid geom.Coord
}

// Thesaurus holds comuni indexed by normalized name.
type Thesaurus struct {
	byNorm   map[string]*Comune
	maxWords int
}

// nameFields and provinceFields are the attribute names tried, in order,
// across ISTAT shapefile vintages.
var (
	nameFields     = []string{"comune", "den_com", "nome"}
	provinceFields = []string{"sigla", "den_uts", "provincia"}
)

// LoadShapefile reads the comuni boundary shapefile and builds the thesaurus.
func LoadShapefile(path string) (*Thesaurus, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "thesaurus: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	nameIdx, ok := firstField(fieldIdx, nameFields)
	if !ok {
		return nil, eris.Errorf("thesaurus: no comune name field in %s", path)
	}
	provIdx, hasProv := firstField(fieldIdx, provinceFields)

	t := &Thesaurus{byNorm: make(map[string]*Comune)}
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		name := strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		if name == "" {
			skipped++
			continue
		}

		c := &Comune{Name: name}
		if hasProv {
			c.Province = strings.TrimSpace(strings.TrimRight(reader.Attribute(provIdx), "\x00"))
		}
		if centroid, ok := shapeCentroid(shape); ok {
			c.Centroid = centroid
		}

		key := Normalize(name)
		if key == "" {
			skipped++
			continue
		}
		t.byNorm[key] = c
		if n := len(strings.Fields(key)); n > t.maxWords {
			t.maxWords = n
		}
	}

	if skipped > 0 {
		zap.L().Debug("thesaurus: skipped shapefile records", zap.Int("skipped", skipped))
	}
	if len(t.byNorm) == 0 {
		return nil, eris.Errorf("thesaurus: no comuni loaded from %s", path)
	}

	zap.L().Info("thesaurus: comuni loaded", zap.Int("count", len(t.byNorm)))
	return t, nil
}

// Len returns the number of comuni.
func (t *Thesaurus) Len() int {
	return len(t.byNorm)
}

// Lookup resolves a comune by name, accent- and case-insensitively.
func (t *Thesaurus) Lookup(name string) (*Comune, bool) {
	c, ok := t.byNorm[Normalize(name)]
	return c, ok
}

// Match returns the canonical names of every comune mentioned in text,
// sorted and deduplicated. Multi-word names are matched before their
// single-word prefixes, so "Abano Terme" does not also yield "Abano".
func (t *Thesaurus) Match(text string) []string {
	words := strings.Fields(Normalize(text))
	found := make(map[string]bool)

	for i := 0; i < len(words); {
		matched := 0
		for n := min(t.maxWords, len(words)-i); n >= 1; n-- {
			candidate := strings.Join(words[i:i+n], " ")
			if c, ok := t.byNorm[candidate]; ok {
				found[c.Name] = true
				matched = n
				break
			}
		}
		if matched > 0 {
			i += matched
		} else {
			i++
		}
	}

	out := make([]string, 0, len(found))
	for name := range found {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// stripAccents removes combining marks after NFD decomposition.
var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, strips diacritics and collapses punctuation, so that
// "Sant'Elena" and "SANT ELENA" compare equal.
func Normalize(s string) string {
	stripped, _, err := transform.String(stripAccents, s)
	if err != nil {
		stripped = s
	}
	var b strings.Builder
	for _, r := range strings.ToLower(stripped) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func firstField(fieldIdx map[string]int, candidates []string) (int, bool) {
	for _, c := range candidates {
		if idx, ok := fieldIdx[c]; ok {
			return idx, true
		}
	}
	return 0, false
}

// shapeCentroid returns the bounding-box center of the boundary polygon.
func shapeCentroid(shape shp.Shape) (geom.Coord, bool) {
	p, ok := shape.(*shp.Polygon)
	if !ok || len(p.Points) == 0 {
		return nil, false
	}
	box := p.BBox()
	return geom.Coord{(box.MinX + box.MaxX) / 2, (box.MinY + box.MaxY) / 2}, true
}
