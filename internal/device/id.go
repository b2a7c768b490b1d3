package device

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/devicelink/internal/infrastructure/config"
)

// idFile is the name of the persisted device ID under the data directory.
const idFile = "device_id"

// IDSource records where a resolved device ID came from.
type IDSource string

// Device ID sources, in order of precedence.
const (
	IDFromConfig    IDSource = "config"
	IDFromSerial    IDSource = "serial"
	IDFromDataDir   IDSource = "data_dir"
	IDFromGenerated IDSource = "generated"
)

// DeriveID formats "<prefix>-XXXXXX" from the last three bytes of serial.
func DeriveID(prefix string, serial []byte) (string, error) {
	if len(serial) < 3 {
		return "", fmt.Errorf("%w: need at least 3 bytes, got %d", ErrInvalidSerial, len(serial))
	}
	b := serial[len(serial)-3:]
	return fmt.Sprintf("%s-%02X%02X%02X", prefix, b[0], b[1], b[2]), nil
}

// ParseSerial decodes a hex serial number. Colons, dashes and spaces are
// ignored so MAC-style notation works.
func ParseSerial(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(":", "", "-", "", " ", "").Replace(s)
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSerial, err)
	}
	return b, nil
}

// ResolveID returns the device ID for cfg and where it came from.
func ResolveID(cfg config.DeviceConfig) (string, IDSource, error) {
	if cfg.ID != "" {
		return cfg.ID, IDFromConfig, nil
	}

	if cfg.Serial != "" {
		serial, err := ParseSerial(cfg.Serial)
		if err != nil {
			return "", "", err
		}
		id, err := DeriveID(cfg.IDPrefix, serial)
		if err != nil {
			return "", "", err
		}
		return id, IDFromSerial, nil
	}

	return LoadOrCreateID(cfg.DataDir)
}

// LoadOrCreateID reads the device ID persisted in dataDir, or generates a
// UUIDv7 and persists it so the device keeps its topics across restarts.
func LoadOrCreateID(dataDir string) (string, IDSource, error) {
	path := filepath.Join(dataDir, idFile)

	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, IDFromDataDir, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", "", fmt.Errorf("generating device ID: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return "", "", fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o600); err != nil {
		return "", "", fmt.Errorf("persisting device ID to %s: %w", path, err)
	}

	return id.String(), IDFromGenerated, nil
}
