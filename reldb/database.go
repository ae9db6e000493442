package reldb

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrDatabaseMissing means no persisted database exists at the source.
	ErrDatabaseMissing = errors.New("relocation database missing")
	// ErrDatabaseCorrupt means the persisted database could not be decoded
	// or is inconsistent.
	ErrDatabaseCorrupt = errors.New("relocation database corrupt")
)

const (
	magic         = "CKPE-RELDB"
	formatVersion = 1
)

// Database maps builds to their item sets. It is read-only once built.
type Database struct {
	builds        map[BuildIdentity]*ItemSet
	byFingerprint map[Fingerprint]BuildIdentity
}

// New builds a database from item sets. Two sets with the same build or the
// same non-zero fingerprint are rejected.
func New(sets ...*ItemSet) (*Database, error) {
	db := &Database{
		builds:        make(map[BuildIdentity]*ItemSet, len(sets)),
		byFingerprint: make(map[Fingerprint]BuildIdentity, len(sets)),
	}
	for _, set := range sets {
		if _, dup := db.builds[set.build]; dup {
			return nil, fmt.Errorf("duplicate build %s", set.build)
		}
		db.builds[set.build] = set

		if set.fingerprint == (Fingerprint{}) {
			continue
		}
		if other, dup := db.byFingerprint[set.fingerprint]; dup {
			return nil, fmt.Errorf("builds %s and %s share fingerprint %s", other, set.build, set.fingerprint)
		}
		db.byFingerprint[set.fingerprint] = set.build
	}
	return db, nil
}

// Lookup returns the item set of build. An unknown build is not an error.
func (db *Database) Lookup(build BuildIdentity) (*ItemSet, bool) {
	if db == nil {
		return nil, false
	}
	set, ok := db.builds[build]
	return set, ok
}

// Identify returns the build whose fingerprint is fp.
func (db *Database) Identify(fp Fingerprint) (BuildIdentity, bool) {
	if db == nil {
		return BuildIdentity{}, false
	}
	build, ok := db.byFingerprint[fp]
	return build, ok
}

// Builds returns every known build, sorted.
func (db *Database) Builds() []BuildIdentity {
	out := make([]BuildIdentity, 0, len(db.builds))
	for build := range db.builds {
		out = append(out, build)
	}
	slices.SortFunc(out, func(a, b BuildIdentity) int {
		if c := strings.Compare(a.Family, b.Family); c != 0 {
			return c
		}
		return strings.Compare(a.Version, b.Version)
	})
	return out
}

type document struct {
	Magic  string        `msgpack:"magic"`
	Format int           `msgpack:"format"`
	Builds []buildRecord `msgpack:"builds"`
}

type buildRecord struct {
	Family        string       `msgpack:"family"`
	Version       string       `msgpack:"version"`
	ImageSize     uint32       `msgpack:"image_size"`
	TimeDateStamp uint32       `msgpack:"timestamp"`
	CheckSum      uint32       `msgpack:"checksum"`
	Items         []itemRecord `msgpack:"items"`
}

type itemRecord struct {
	Name    string       `msgpack:"name"`
	Version uint32       `msgpack:"version"`
	Slots   []slotRecord `msgpack:"slots"`
}

type slotRecord struct {
	Slot   uint32 `msgpack:"slot"`
	Offset uint32 `msgpack:"offset"`
}

// Load decodes a persisted database.
func Load(r io.Reader) (*Database, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseCorrupt, err)
	}
	defer dec.Close()

	var doc document
	if err := msgpack.NewDecoder(dec).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseCorrupt, err)
	}
	if doc.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrDatabaseCorrupt, doc.Magic)
	}
	if doc.Format != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrDatabaseCorrupt, doc.Format)
	}

	db, err := fromRecords(doc.Builds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseCorrupt, err)
	}
	return db, nil
}

// LoadFile loads the persisted database at path.
func LoadFile(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseMissing, path)
		}
		return nil, err
	}
	defer f.Close()

	db, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return db, nil
}

// Encode writes db in the persisted form read by Load.
func (db *Database) Encode(w io.Writer) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}

	doc := document{
		Magic:  magic,
		Format: formatVersion,
		Builds: db.records(),
	}
	if err := msgpack.NewEncoder(enc).Encode(&doc); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// SaveFile writes db to path.
func (db *Database) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := db.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fromRecords(records []buildRecord) (*Database, error) {
	sets := make([]*ItemSet, 0, len(records))
	for _, br := range records {
		build := BuildIdentity{Family: br.Family, Version: br.Version}
		items := make([]*Item, 0, len(br.Items))
		for _, ir := range br.Items {
			slots := make(map[uint32]RVA, len(ir.Slots))
			for _, sr := range ir.Slots {
				if _, dup := slots[sr.Slot]; dup {
					return nil, fmt.Errorf("build %s item %q: duplicate slot %d", build, ir.Name, sr.Slot)
				}
				slots[sr.Slot] = RVA(sr.Offset)
			}
			items = append(items, &Item{build: build, name: ir.Name, version: ir.Version, offsets: slots})
		}

		set, err := NewItemSet(build, Fingerprint{
			ImageSize:     br.ImageSize,
			TimeDateStamp: br.TimeDateStamp,
			CheckSum:      br.CheckSum,
		}, items...)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return New(sets...)
}

func (db *Database) records() []buildRecord {
	records := make([]buildRecord, 0, len(db.builds))
	for _, build := range db.Builds() {
		set := db.builds[build]
		br := buildRecord{
			Family:        build.Family,
			Version:       build.Version,
			ImageSize:     set.fingerprint.ImageSize,
			TimeDateStamp: set.fingerprint.TimeDateStamp,
			CheckSum:      set.fingerprint.CheckSum,
		}
		for _, it := range set.Items() {
			ir := itemRecord{Name: it.name, Version: it.version}
			for _, slot := range it.Slots() {
				ir.Slots = append(ir.Slots, slotRecord{Slot: slot, Offset: uint32(it.offsets[slot])})
			}
			br.Items = append(br.Items, ir)
		}
		records = append(records, br)
	}
	return records
}
