package engine

import (
	"bytes"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Result is a path reported by the engine.
type Result struct {
	Distance float64
	Path     []int64
}

func formatRequest(src, dst int64) string {
	return strconv.FormatInt(src, 10) + " " + strconv.FormatInt(dst, 10) + "\n"
}

// parseResponse decodes "<distance> <id> <id> ...". An empty line, or a
// distance that is not finite, means no path.
func parseResponse(line string) (Result, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Result{}, ErrNoPath
	}
	dist, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Result{}, errors.Wrapf(ErrProtocol, "distance %q", fields[0])
	}
	if math.IsInf(dist, 0) || math.IsNaN(dist) {
		return Result{}, ErrNoPath
	}
	path := make([]int64, 0, len(fields)-1)
	for _, f := range fields[1:] {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return Result{}, errors.Wrapf(ErrProtocol, "node id %q", f)
		}
		path = append(path, id)
	}
	return Result{Distance: dist, Path: path}, nil
}

// lineBuffer splits a byte stream into newline-terminated lines, carrying an
// unterminated tail over to the next chunk.
type lineBuffer struct {
	partial []byte
}

// feed passes each complete line in chunk to fn, without its terminator.
// It stops early and returns false when fn does.
func (b *lineBuffer) feed(chunk []byte, fn func(line string) bool) bool {
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			b.partial = append(b.partial, chunk...)
			return true
		}
		var line string
		if len(b.partial) > 0 {
			b.partial = append(b.partial, chunk[:i]...)
			line = string(b.partial)
			b.partial = b.partial[:0]
		} else {
			line = string(chunk[:i])
		}
		chunk = chunk[i+1:]
		if !fn(strings.TrimSuffix(line, "\r")) {
			return false
		}
	}
	return true
}

// buffered is the length of the carried partial line.
func (b *lineBuffer) buffered() int { return len(b.partial) }

// readLines reads r until EOF or error, calling fn for each complete line.
func readLines(r io.Reader, fn func(line string) bool) error {
	var lb lineBuffer
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 && !lb.feed(buf[:n], fn) {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
