package driver

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"mxprec/internal/source"
)

// cacheKey: H(schema || ir path || ir hash || config path || config hash || option bits).
// Paths are part of the key because the output names its module after the
// input path and diagnostics point into both files.
func cacheKey(ir, cfg *source.File, opts Options) Digest {
	h := sha256.New()
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], diskCacheSchemaVersion)
	_, _ = h.Write(buf[:])
	writePath(h, ir.Path)
	_, _ = h.Write(ir.Hash[:])
	writePath(h, cfg.Path)
	_, _ = h.Write(cfg.Hash[:])
	_, _ = h.Write([]byte{optionBits(opts)})
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

func writePath(w io.Writer, path string) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(path)))
	_, _ = w.Write(n[:])
	_, _ = io.WriteString(w, path)
}

func optionBits(opts Options) byte {
	var b byte
	for i, set := range []bool{opts.Strict, opts.DeleteUnhandled, opts.Lower} {
		if set {
			b |= 1 << i
		}
	}
	return b
}
