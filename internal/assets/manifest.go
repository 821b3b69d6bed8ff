package assets

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/minio/crc64nvme"
	"github.com/mr-tron/base58"
)

// Manifest describes the files written by one build.
type Manifest struct {
	BuildID    string          `json:"buildId"`
	Mode       string          `json:"mode"`
	Variant    string          `json:"variant"`
	PublicPath string          `json:"publicPath"`
	BuiltAt    time.Time       `json:"builtAt"`
	Files      []ManifestEntry `json:"files"`
}

type ManifestEntry struct {
	// Path relative to the output directory
	Path string `json:"path"`
	Size int64  `json:"size"`
	// Base58 CRC64-NVME of the file contents
	Checksum string `json:"checksum"`
}

func newManifest(mode, variant, publicPath string) *Manifest {
	return &Manifest{
		BuildID:    uuid.NewString(),
		Mode:       mode,
		Variant:    variant,
		PublicPath: publicPath,
		BuiltAt:    time.Now().UTC(),
	}
}

func (m *Manifest) add(rel string, contents []byte) {
	m.Files = append(m.Files, ManifestEntry{
		Path:     filepath.ToSlash(rel),
		Size:     int64(len(contents)),
		Checksum: checksum(contents),
	})
}

func (m *Manifest) write(path string) error {
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0600)
}

// checksum computes the base58 encoded CRC64-NVME of data
func checksum(data []byte) string {
	h := crc64nvme.New()
	h.Write(data)

	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], h.Sum64())
	return base58.Encode(sum[:])
}
