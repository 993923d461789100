package graph

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/signalsfoundry/roadgraph/model"
)

// RecordSize is the size of one node record in nodes.bin.
const RecordSize = 16

// EncodeNode writes ll into dst[:RecordSize].
func EncodeNode(dst []byte, ll model.LatLon) {
	binary.LittleEndian.PutUint64(dst[0:8], math.Float64bits(ll.Lat))
	binary.LittleEndian.PutUint64(dst[8:16], math.Float64bits(ll.Lon))
}

// DecodeNode reads a coordinate from src[:RecordSize].
func DecodeNode(src []byte) model.LatLon {
	return model.LatLon{
		Lat: math.Float64frombits(binary.LittleEndian.Uint64(src[0:8])),
		Lon: math.Float64frombits(binary.LittleEndian.Uint64(src[8:16])),
	}
}

// WriteNodesFile writes coords to path in nodes.bin layout.
func WriteNodesFile(path string, coords []model.LatLon) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	w := bufio.NewWriter(f)
	var rec [RecordSize]byte
	for _, c := range coords {
		EncodeNode(rec[:], c)
		if _, err := w.Write(rec[:]); err != nil {
			_ = f.Close()
			return errors.WithStack(err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return errors.WithStack(err)
	}
	return errors.WithStack(f.Close())
}

// WriteCSRFiles writes an adjacency list to offsetPath/targetPath in CSR
// layout. adjacency[u] lists the targets of node u.
func WriteCSRFiles(offsetPath, targetPath string, adjacency [][]int32) error {
	offsets := make([]uint32, 0, len(adjacency)+1)
	var targets []int32
	offsets = append(offsets, 0)
	for _, adj := range adjacency {
		targets = append(targets, adj...)
		offsets = append(offsets, uint32(len(targets)))
	}
	if err := writeLE(offsetPath, offsets); err != nil {
		return err
	}
	return writeLE(targetPath, targets)
}

func writeLE(path string, data any) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		_ = f.Close()
		return errors.WithStack(err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return errors.WithStack(err)
	}
	return errors.WithStack(f.Close())
}
