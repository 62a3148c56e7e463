package artifact

import (
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/snappy"
)

// CompressIfLarge snappy-compresses the file at path in place (writing
// path+".sz" and removing the original) when its size exceeds
// thresholdBytes, mirroring the teacher's extension-driven compress
// dispatch in internal/edge/cache/compress.go. algorithm controls whether
// compression is attempted at all; only "snappy" is supported for
// artifact parts (thresholdBytes <= 0 or algorithm != "snappy" disables
// it).
func CompressIfLarge(path string, algorithm string, thresholdBytes int64) error {
	if algorithm != "snappy" || thresholdBytes <= 0 {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("artifact: stat %q: %w", path, err)
	}
	if info.Size() < thresholdBytes {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("artifact: read %q for compression: %w", path, err)
	}

	compressed := snappy.Encode(nil, raw)
	compressedPath := path + ".sz"
	if err := os.WriteFile(compressedPath, compressed, 0o644); err != nil {
		return fmt.Errorf("artifact: write compressed %q: %w", compressedPath, err)
	}

	return os.Remove(path)
}

// DecompressIfNeeded returns the raw bytes at path, transparently
// decompressing a ".sz"-suffixed snappy payload when path itself is
// missing but a compressed sibling exists.
func DecompressIfNeeded(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return raw, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	if strings.HasSuffix(path, ".sz") {
		return nil, err
	}

	compressed, cerr := os.ReadFile(path + ".sz")
	if cerr != nil {
		return nil, err
	}

	return snappy.Decode(nil, compressed)
}
