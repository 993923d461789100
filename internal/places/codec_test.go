package places

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/roadgraph/model"
)

func encodePlaces(t *testing.T, places []model.Place) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, places))
	return buf.Bytes()
}

func TestEncodeParseRoundTrip(t *testing.T) {
	in := []model.Place{
		{Name: "Connaught Place", Type: "suburb", Lat: 28.6315, Lon: 77.2167},
		{Name: "Hauz Khas Village", Type: "neighbourhood", Lat: 28.5535, Lon: 77.1944},
		{Name: "", Type: "", Lat: -1.5, Lon: 2.25},
	}
	data := encodePlaces(t, in)
	require.Len(t, data, headerSize+len(in)*RecordSize)

	out, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i, p := range out {
		require.Equal(t, uint32(i), p.ID)
		require.Equal(t, in[i].Name, p.Name)
		require.Equal(t, in[i].Type, p.Type)
		require.Equal(t, in[i].Lat, p.Lat)
		require.Equal(t, in[i].Lon, p.Lon)
		require.Equal(t, model.UnresolvedNode, p.NodeID)
	}
}

func TestEncodeTruncatesLongFields(t *testing.T) {
	long := strings.Repeat("é", 40) // 80 bytes
	data := encodePlaces(t, []model.Place{{Name: long, Type: "administrative_area"}})

	out, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("é", 32), out[0].Name)
	require.Equal(t, "administrative_a", out[0].Type)
}

func TestParseClampsNameLength(t *testing.T) {
	data := encodePlaces(t, []model.Place{{Name: "abc"}})
	data[headerSize] = 200

	out, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, out[0].Name, nameSize)
	require.True(t, strings.HasPrefix(out[0].Name, "abc"))
}

func TestParseRejectsInconsistentHeader(t *testing.T) {
	data := encodePlaces(t, []model.Place{{Name: "a"}, {Name: "b"}})
	binary.LittleEndian.PutUint32(data[:4], 3)

	_, err := Parse(data)
	require.ErrorIs(t, err, ErrCorruptFile)

	_, err = Parse([]byte{1, 0})
	require.ErrorIs(t, err, ErrCorruptFile)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "places.bin")
	require.NoError(t, os.WriteFile(path, encodePlaces(t, []model.Place{{Name: "India Gate", Type: "monument"}}), 0o644))

	out, err := Load(path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "India Gate", out[0].Name)

	_, err = Load(filepath.Join(dir, "missing.bin"))
	require.ErrorIs(t, err, ErrMissingFile)
}
