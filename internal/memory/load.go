package memory

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/veritas-os/veritas/internal/errs"
)

// legacyBinaryMagic values are rejected outright: a record file must be
// JSON. This is the fail-closed behavior spec.md §4.4 requires — no
// in-process path deserializes arbitrary binary objects from disk.
var legacyBinaryMagic = [][]byte{
	[]byte("\x80\x04"),     // Python pickle protocol 4
	[]byte("\x80\x05"),     // Python pickle protocol 5
	[]byte{0x89, 'N', 'U', 'M', 'P', 'Y'}, // legacy .npy (not our zip-of-.f32 npz)
	[]byte("PK\x03\x04"),   // zip magic; only accepted via ReadNPZ's strict member validation, never here
}

func readRecordFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.KindTransientIO, "memory: read record file", err)
	}

	for _, magic := range legacyBinaryMagic {
		if bytes.HasPrefix(data, magic) {
			slog.Warn("memory: refusing to load non-JSON record file, fail-closed",
				slog.String("path", path))
			return nil, errs.New(errs.KindInvalidInput, "memory: unsupported legacy binary record format", nil)
		}
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errs.New(errs.KindInvalidInput, "memory: record file is not valid JSON", err)
	}
	return &r, nil
}
