// Package planio implements on-the-wire persistence for a synthesized
// synth.Plan, per spec.md §6: a JSON manifest header
// ({magic, version, created_timestamp, debug_flag, optimize_flag}) followed
// by a REZI-encoded binary body, mismatched magic or version failing Open
// with a descriptive error.
//
// Grounded on the teacher's own use of github.com/dekarrin/rezi in
// server/dao/sqlite.go (rezi.EncBinary/rezi.DecBinary for storing
// internal/game.State blobs): REZI's reflective binary encoding handles the
// plain-data step tree directly, without a hand-written marshaler per type.
//
// A Plan's Expr/Hook-typed fields are opaque host callbacks (spec.md's
// Expr.Eval/Hook.Run doc — functions and interface values, not data) and
// cannot be serialized by any encoding. Only the structural shape of the
// plan round-trips through this package: a decoded Plan's Count/Cond/
// Container/IfExpr/BoundaryExpr/Args/Hooks fields are all nil or empty, and
// its steps' Optional/Default/Requires/Convert fields are not stored and
// come back as zero values. A
// host that needs a directly executable Plan still holds the
// grammar.Grammar that produced it (Expr/Hook values are Go code, not data
// on disk) and re-synthesizes; planio's role is fast structural
// reconstruction for cache-hit comparison and read-only introspection
// (cmd/spicydebug), not bypassing re-synthesis entirely.
package planio

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dekarrin/rezi"

	"github.com/dekarrin/spicyparse/internal/registry"
	"github.com/dekarrin/spicyparse/internal/synth"
)

// magicHeader is the fixed tag every planio artifact's manifest carries,
// per spec.md §6's "mismatched magic ... fails open()".
const magicHeader = "SPPL"

// CurrentVersion is the planio wire format version this build writes and
// the only version it reads.
const CurrentVersion = 1

// NewManifest returns a Manifest stamped with planio's magic and current
// version, ready for Save. created is a Unix timestamp; callers supply it
// rather than planio reading the clock itself, keeping this package free of
// direct time.Now() calls the same way the rest of the core avoids hidden
// global state.
func NewManifest(created int64, debug, optimize bool) registry.Manifest {
	return registry.Manifest{
		Magic:            magicHeader,
		Version:          CurrentVersion,
		CreatedTimestamp: created,
		DebugFlag:        debug,
		OptimizeFlag:     optimize,
	}
}

// Save writes manifest as a length-prefixed JSON header, then plan's
// structural shape as a length-prefixed REZI-encoded body, to w.
func Save(w io.Writer, manifest registry.Manifest, plan *synth.Plan) error {
	if manifest.Magic == "" {
		manifest.Magic = magicHeader
	}
	if manifest.Version == 0 {
		manifest.Version = CurrentVersion
	}

	headerBytes, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("planio: encode manifest: %w", err)
	}
	if err := writeLengthPrefixed(w, headerBytes); err != nil {
		return fmt.Errorf("planio: write manifest: %w", err)
	}

	body := rezi.EncBinary(toFileRecord(plan))
	if err := writeLengthPrefixed(w, body); err != nil {
		return fmt.Errorf("planio: write plan body: %w", err)
	}
	return nil
}

// Open reads back a Save-d artifact: the JSON manifest header, validated
// against magicHeader and CurrentVersion, and the plan's structural shape.
// See the package doc for which fields of the returned Plan are nil.
func Open(r io.Reader) (registry.Manifest, *synth.Plan, error) {
	var manifest registry.Manifest

	headerBytes, err := readLengthPrefixed(r)
	if err != nil {
		return manifest, nil, fmt.Errorf("planio: read manifest: %w", err)
	}
	if err := json.Unmarshal(headerBytes, &manifest); err != nil {
		return manifest, nil, fmt.Errorf("planio: decode manifest: %w", err)
	}
	if manifest.Magic != magicHeader {
		return manifest, nil, fmt.Errorf("planio: bad magic %q, expected %q", manifest.Magic, magicHeader)
	}
	if manifest.Version != CurrentVersion {
		return manifest, nil, fmt.Errorf("planio: unsupported version %d, expected %d", manifest.Version, CurrentVersion)
	}

	body, err := readLengthPrefixed(r)
	if err != nil {
		return manifest, nil, fmt.Errorf("planio: read plan body: %w", err)
	}
	var fr fileRecord
	if _, err := rezi.DecBinary(body, &fr); err != nil {
		return manifest, nil, fmt.Errorf("planio: decode plan body: %w", err)
	}
	return manifest, fromFileRecord(&fr), nil
}

func writeLengthPrefixed(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
