// Package identity reads the drive identity record a minter writes onto a
// ZenFS-participant drive (spec §3.1, §4.4, §6.1). ZenFS itself never mints
// an identity — the minter is an external collaborator — so this package
// owns the read path used by the Reconciler and Indexer, plus a Write
// fixture helper that only tests call.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RelativePath is the well-known location of a drive's identity record,
// relative to the drive's root.
const RelativePath = "System/ZenFS/drive.json"

// DriveType distinguishes the single system drive from roaming drives.
type DriveType string

const (
	DriveTypeSystem  DriveType = "system"
	DriveTypeRoaming DriveType = "roaming"
)

// Drive is the identity of a minted, ZenFS-participant volume. UUID is the
// only load-bearing field for the core (spec §6.1); the rest are
// informational.
type Drive struct {
	UUID      string    `json:"uuid"`
	Label     string    `json:"label"`
	Type      DriveType `json:"type"`
	CreatedAt int64     `json:"created_at"`
	Node      string    `json:"node,omitempty"`
}

// record mirrors the on-disk envelope: { "drive_identity": {...} }.
type record struct {
	DriveIdentity Drive `json:"drive_identity"`
}

// ErrUnidentified indicates that a drive root has no valid identity record —
// either the file is missing, the JSON is malformed, or uuid is empty. Per
// spec §7, such a drive is treated as unidentified: the Reconciler will not
// gate it and the Indexer will not watch it.
var ErrUnidentified = errors.New("identity: drive is unidentified")

// Read loads the identity record rooted at driveRoot (spec §6.1). A missing
// file, invalid JSON, or empty uuid all collapse to ErrUnidentified so
// callers don't need to distinguish "absent" from "corrupt" — both mean
// "don't touch this drive".
func Read(driveRoot string) (Drive, error) {
	return readFile(filepath.Join(driveRoot, RelativePath))
}

// ReadSystem reads the system drive's identity from its fixed absolute host
// path (spec §3.1, §6.1) — systemIdentityPath already names the drive.json
// file itself, not a drive root, so it is read directly rather than joined
// with RelativePath.
func ReadSystem(systemIdentityPath string) (Drive, error) {
	return readFile(systemIdentityPath)
}

func readFile(path string) (Drive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Drive{}, ErrUnidentified
		}
		return Drive{}, fmt.Errorf("identity: reading %s: %w", path, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Drive{}, fmt.Errorf("%w: invalid json in %s: %v", ErrUnidentified, path, err)
	}
	if rec.DriveIdentity.UUID == "" {
		return Drive{}, fmt.Errorf("%w: missing uuid in %s", ErrUnidentified, path)
	}
	return rec.DriveIdentity, nil
}

// Write is a test-only fixture helper: production ZenFS never mints an
// identity (spec §4.4 — the minter is an external collaborator). It exists
// so Reconciler/Indexer tests can fabricate a drive root without depending
// on a real minting tool.
func Write(driveRoot string, drive Drive) error {
	if drive.CreatedAt == 0 {
		drive.CreatedAt = time.Now().Unix()
	}
	path := filepath.Join(driveRoot, RelativePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("identity: creating %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(record{DriveIdentity: drive}, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: marshaling: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
