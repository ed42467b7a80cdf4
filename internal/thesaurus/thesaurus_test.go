package thesaurus

import (
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeComuniShapefile writes a minimal ISTAT-shaped fixture with a square
// boundary per comune.
func writeComuniShapefile(t *testing.T, comuni map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "comuni.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)

	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("COMUNE", 60),
		shp.StringField("SIGLA", 4),
	}))

	row := 0
	x := 11.0
	for name, prov := range comuni {
		square := [][]shp.Point{{
			{X: x, Y: 45.0}, {X: x + 0.2, Y: 45.0},
			{X: x + 0.2, Y: 45.2}, {X: x, Y: 45.2}, {X: x, Y: 45.0},
		}}
		w.Write((*shp.Polygon)(shp.NewPolyLine(square)))
		require.NoError(t, w.WriteAttribute(row, 0, name))
		require.NoError(t, w.WriteAttribute(row, 1, prov))
		row++
		x += 1.0
	}
	require.NoError(t, w.Close())
	return path
}

func newTestThesaurus(t *testing.T) *Thesaurus {
	t.Helper()
	path := writeComuniShapefile(t, map[string]string{
		"Padova":      "PD",
		"Este":        "PD",
		"Abano Terme": "PD",
		"Sant'Elena":  "PD",
	})
	th, err := LoadShapefile(path)
	require.NoError(t, err)
	return th
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Padova", "padova"},
		{"ABANO TERME", "abano terme"},
		{"Sant'Elena", "sant elena"},
		{"Forlì", "forli"},
		{"  Cittadella  ", "cittadella"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestLoadShapefile(t *testing.T) {
	th := newTestThesaurus(t)
	assert.Equal(t, 4, th.Len())

	c, ok := th.Lookup("padova")
	require.True(t, ok)
	assert.Equal(t, "Padova", c.Name)
	assert.Equal(t, "PD", c.Province)
	require.Len(t, c.Centroid, 2)
	assert.InDelta(t, 45.1, c.Centroid[1], 0.01)
}

func TestLookup_AccentInsensitive(t *testing.T) {
	th := newTestThesaurus(t)

	c, ok := th.Lookup("SANT ELENA")
	require.True(t, ok)
	assert.Equal(t, "Sant'Elena", c.Name)

	_, ok = th.Lookup("Vicenza")
	assert.False(t, ok)
}

func TestMatch(t *testing.T) {
	th := newTestThesaurus(t)

	text := "Lo scavo, condotto nel territorio di ABANO TERME e in parte presso Este, " +
		"non ha interessato il centro di Padova."
	got := th.Match(text)
	assert.Equal(t, []string{"Abano Terme", "Este", "Padova"}, got)
}

func TestMatch_MultiWordWins(t *testing.T) {
	path := writeComuniShapefile(t, map[string]string{
		"Abano":       "PD",
		"Abano Terme": "PD",
	})
	th, err := LoadShapefile(path)
	require.NoError(t, err)

	got := th.Match("saggio presso abano terme")
	assert.Equal(t, []string{"Abano Terme"}, got)
}

func TestMatch_NoMentions(t *testing.T) {
	th := newTestThesaurus(t)
	assert.Empty(t, th.Match("nessun toponimo in questo testo"))
}

func TestLoadShapefile_MissingFile(t *testing.T) {
	_, err := LoadShapefile(filepath.Join(t.TempDir(), "missing.shp"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open shapefile")
}
