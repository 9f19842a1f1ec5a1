package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// pngHeader is enough of a PNG signature for content sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

// ImageBytes returns PNG-looking bytes made unique by seed.
func ImageBytes(seed string) []byte {
	data := make([]byte, 0, len(pngHeader)+len(seed))
	data = append(data, pngHeader...)
	return append(data, seed...)
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// CountFiles returns the number of regular files directly inside dir.
func CountFiles(t testing.TB, dir string) int {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("read dir %s: %v", dir, err)
	}
	count := 0
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			count++
		}
	}
	return count
}
