package reldb

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Source is the hand edited form of the database.
type Source struct {
	Builds []SourceBuild `yaml:"builds"`
}

type SourceBuild struct {
	Family      string            `yaml:"family"`
	Version     string            `yaml:"version"`
	Fingerprint SourceFingerprint `yaml:"fingerprint"`
	Items       []SourceItem      `yaml:"items"`
}

type SourceFingerprint struct {
	ImageSize     uint32 `yaml:"image_size"`
	TimeDateStamp uint32 `yaml:"timestamp"`
	CheckSum      uint32 `yaml:"checksum"`
}

type SourceItem struct {
	Name    string            `yaml:"name"`
	Version uint32            `yaml:"version"`
	Slots   map[uint32]uint32 `yaml:"slots"`
}

// ParseSource reads a YAML source document. Unknown fields are errors.
func ParseSource(r io.Reader) (*Database, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var src Source
	if err := dec.Decode(&src); err != nil {
		return nil, fmt.Errorf("parse database source: %w", err)
	}
	return src.Database()
}

// Database converts the source into a Database.
func (src *Source) Database() (*Database, error) {
	records := make([]buildRecord, 0, len(src.Builds))
	for _, b := range src.Builds {
		br := buildRecord{
			Family:        b.Family,
			Version:       b.Version,
			ImageSize:     b.Fingerprint.ImageSize,
			TimeDateStamp: b.Fingerprint.TimeDateStamp,
			CheckSum:      b.Fingerprint.CheckSum,
		}
		for _, it := range b.Items {
			if it.Name == "" {
				return nil, fmt.Errorf("build %s/%s: item without a name", b.Family, b.Version)
			}
			ir := itemRecord{Name: it.Name, Version: it.Version}
			for slot, offset := range it.Slots {
				ir.Slots = append(ir.Slots, slotRecord{Slot: slot, Offset: offset})
			}
			br.Items = append(br.Items, ir)
		}
		records = append(records, br)
	}
	return fromRecords(records)
}

// Source converts db back to its YAML form.
func (db *Database) Source() *Source {
	src := &Source{}
	for _, br := range db.records() {
		sb := SourceBuild{
			Family:  br.Family,
			Version: br.Version,
			Fingerprint: SourceFingerprint{
				ImageSize:     br.ImageSize,
				TimeDateStamp: br.TimeDateStamp,
				CheckSum:      br.CheckSum,
			},
		}
		for _, ir := range br.Items {
			si := SourceItem{Name: ir.Name, Version: ir.Version, Slots: make(map[uint32]uint32, len(ir.Slots))}
			for _, sr := range ir.Slots {
				si.Slots[sr.Slot] = sr.Offset
			}
			sb.Items = append(sb.Items, si)
		}
		src.Builds = append(src.Builds, sb)
	}
	return src
}

// WriteSource writes db as YAML.
func (db *Database) WriteSource(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(db.Source()); err != nil {
		return err
	}
	return enc.Close()
}
