// Package places loads named points of interest, searches them by name and
// joins each one onto its nearest road-graph node.
package places

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/signalsfoundry/roadgraph/model"
)

// places.bin layout: a uint32 record count, then fixed records of
// [nameLen:1][name:64][type:16][lat:8][lon:8], little-endian.
const (
	headerSize = 4
	nameSize   = 64
	typeSize   = 16
	RecordSize = 1 + nameSize + typeSize + 8 + 8
)

var (
	// ErrMissingFile is returned when places.bin does not exist.
	ErrMissingFile = errors.New("places file not found")
	// ErrCorruptFile is returned when the header count does not fit the file.
	ErrCorruptFile = errors.New("places file corrupt")
)

// Load reads places.bin from path.
func Load(path string) ([]model.Place, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrMissingFile, "open %s", path)
		}
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	places, err := parse(bufio.NewReaderSize(f, 1<<16), info.Size())
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return places, nil
}

// Parse decodes a complete places.bin image.
func Parse(data []byte) ([]model.Place, error) {
	return parse(bytes.NewReader(data), int64(len(data)))
}

func parse(r io.Reader, size int64) ([]model.Place, error) {
	if size < headerSize {
		return nil, errors.Wrapf(ErrCorruptFile, "%d bytes is shorter than the header", size)
	}
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.WithStack(err)
	}
	count := binary.LittleEndian.Uint32(hdr[:])
	if want := headerSize + int64(count)*RecordSize; size < want {
		return nil, errors.Wrapf(ErrCorruptFile, "header declares %d records (%d bytes), file has %d", count, want, size)
	}

	places := make([]model.Place, 0, count)
	var rec [RecordSize]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			return nil, errors.Wrapf(err, "read record %d", i)
		}
		places = append(places, decodeRecord(i, rec[:]))
	}
	return places, nil
}

func decodeRecord(id uint32, rec []byte) model.Place {
	nameLen := min(int(rec[0]), nameSize)
	name := rec[1 : 1+nameLen]
	typ := rec[1+nameSize : 1+nameSize+typeSize]
	coords := rec[1+nameSize+typeSize:]
	return model.Place{
		ID:     id,
		Name:   strings.ToValidUTF8(string(name), "�"),
		Type:   strings.ToValidUTF8(string(bytes.TrimRight(typ, "\x00")), "�"),
		Lat:    math.Float64frombits(binary.LittleEndian.Uint64(coords[0:8])),
		Lon:    math.Float64frombits(binary.LittleEndian.Uint64(coords[8:16])),
		NodeID: model.UnresolvedNode,
	}
}

// Encode writes places in places.bin layout. Names longer than 64 bytes
// and types longer than 16 bytes are truncated.
func Encode(w io.Writer, places []model.Place) error {
	bw := bufio.NewWriter(w)
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(places)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return errors.WithStack(err)
	}
	for _, p := range places {
		var rec [RecordSize]byte
		name := truncateUTF8(p.Name, nameSize)
		rec[0] = byte(len(name))
		copy(rec[1:1+nameSize], name)
		copy(rec[1+nameSize:1+nameSize+typeSize], truncateUTF8(p.Type, typeSize))
		binary.LittleEndian.PutUint64(rec[1+nameSize+typeSize:], math.Float64bits(p.Lat))
		binary.LittleEndian.PutUint64(rec[1+nameSize+typeSize+8:], math.Float64bits(p.Lon))
		if _, err := bw.Write(rec[:]); err != nil {
			return errors.WithStack(err)
		}
	}
	return errors.WithStack(bw.Flush())
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
