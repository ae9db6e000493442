package inicache

import (
	"strings"

	"gopkg.in/ini.v1"
)

var _ Profile = (*Manager)(nil)

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func findSection(f *ini.File, name string) *ini.Section {
	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		if strings.EqualFold(sec.Name(), name) {
			return sec
		}
	}
	return nil
}

func findKey(sec *ini.Section, name string) *ini.Key {
	if sec == nil {
		return nil
	}
	for _, k := range sec.Keys() {
		if strings.EqualFold(k.Name(), name) {
			return k
		}
	}
	return nil
}

// lookupValue returns the cleaned value of section/key.
func lookupValue(f *ini.File, section, key string) (string, bool) {
	k := findKey(findSection(f, section), key)
	if k == nil {
		return "", false
	}
	return cleanValue(k.Value()), true
}

func sectionNames(f *ini.File) []string {
	var names []string
	for _, sec := range f.Sections() {
		if sec.Name() != ini.DefaultSection {
			names = append(names, sec.Name())
		}
	}
	return names
}

func keyNames(f *ini.File, section string) []string {
	sec := findSection(f, section)
	if sec == nil {
		return nil
	}
	return sec.KeyStrings()
}

func defaultValue(def *string) string {
	return strings.TrimRight(deref(def), whitespace)
}

func (m *Manager) GetPrivateProfileIntA(section, key *string, def int32, file *string) (uint32, Errno) {
	return m.getInt(section, key, def, file, func(p Profile) (uint32, Errno) {
		return p.GetPrivateProfileIntA(section, key, def, file)
	})
}

func (m *Manager) GetPrivateProfileIntW(section, key *string, def int32, file *string) (uint32, Errno) {
	return m.getInt(section, key, def, file, func(p Profile) (uint32, Errno) {
		return p.GetPrivateProfileIntW(section, key, def, file)
	})
}

func (m *Manager) getInt(section, key *string, def int32, file *string, pass func(Profile) (uint32, Errno)) (uint32, Errno) {
	if section == nil || key == nil {
		return uint32(def), ErrorSuccess
	}

	d, fb := m.route(file)
	if d == nil {
		if fb != nil {
			return pass(fb)
		}
		return uint32(def), ErrorFileNotFound
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	v, ok := lookupValue(d.file, *section, *key)
	if !ok {
		return uint32(def), ErrorFileNotFound
	}
	return parseUint(v), ErrorSuccess
}

func (m *Manager) GetPrivateProfileStringA(section, key, def *string, dst []byte, file *string) (uint32, Errno) {
	return getString(m, section, key, def, dst, file, EncodeNarrow, func(p Profile) (uint32, Errno) {
		return p.GetPrivateProfileStringA(section, key, def, dst, file)
	})
}

func (m *Manager) GetPrivateProfileStringW(section, key, def *string, dst []uint16, file *string) (uint32, Errno) {
	return getString(m, section, key, def, dst, file, EncodeWide, func(p Profile) (uint32, Errno) {
		return p.GetPrivateProfileStringW(section, key, def, dst, file)
	})
}

// getString implements both string getters. A nil section lists the
// section names, a nil key lists the keys of section.
func getString[T byte | uint16](m *Manager, section, key, def *string, dst []T, file *string, encode func(string) []T, pass func(Profile) (uint32, Errno)) (uint32, Errno) {
	if len(dst) == 0 {
		return 0, ErrorSuccess
	}

	d, fb := m.route(file)
	if d == nil {
		if fb != nil {
			return pass(fb)
		}
		return copyValue(dst, encode(defaultValue(def))), ErrorFileNotFound
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	encodeAll := func(names []string) [][]T {
		out := make([][]T, len(names))
		for i, n := range names {
			out[i] = encode(n)
		}
		return out
	}

	switch {
	case section == nil:
		return copyList(dst, encodeAll(sectionNames(d.file))), ErrorSuccess
	case key == nil:
		return copyList(dst, encodeAll(keyNames(d.file, *section))), ErrorSuccess
	}

	v, ok := lookupValue(d.file, *section, *key)
	if !ok {
		return copyValue(dst, encode(defaultValue(def))), ErrorFileNotFound
	}
	return copyValue(dst, encode(v)), ErrorSuccess
}

func (m *Manager) GetPrivateProfileStructA(section, key *string, dst []byte, file *string) (bool, Errno) {
	if section == nil || key == nil || len(dst) >= maxStructSize {
		return false, ErrorSuccess
	}

	d, fb := m.route(file)
	if d == nil {
		if fb != nil {
			return fb.GetPrivateProfileStructA(section, key, dst, file)
		}
		return false, ErrorFileNotFound
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	k := findKey(findSection(d.file, *section), *key)
	if k == nil {
		return false, ErrorFileNotFound
	}
	if !decodeStruct(strings.Trim(k.Value(), whitespace), dst) {
		return false, ErrorInvalidData
	}
	return true, ErrorSuccess
}

func (m *Manager) WritePrivateProfileStringA(section, key, value, file *string) (bool, Errno) {
	return m.writeString(section, key, value, file, func(p Profile) (bool, Errno) {
		return p.WritePrivateProfileStringA(section, key, value, file)
	})
}

func (m *Manager) WritePrivateProfileStringW(section, key, value, file *string) (bool, Errno) {
	return m.writeString(section, key, value, file, func(p Profile) (bool, Errno) {
		return p.WritePrivateProfileStringW(section, key, value, file)
	})
}

// writeString sets section/key to value. A nil key deletes the section, a
// nil value deletes the key.
func (m *Manager) writeString(section, key, value, file *string, pass func(Profile) (bool, Errno)) (bool, Errno) {
	if section == nil || file == nil {
		return false, ErrorSuccess
	}

	d, fb := m.route(file)
	if d == nil {
		if fb != nil {
			return pass(fb)
		}
		return false, ErrorFileNotFound
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	sec := findSection(d.file, *section)
	switch {
	case key == nil:
		if sec != nil {
			d.file.DeleteSection(sec.Name())
			d.dirty = true
		}
		return true, ErrorSuccess
	case value == nil:
		if k := findKey(sec, *key); k != nil {
			sec.DeleteKey(k.Name())
			d.dirty = true
		}
		return true, ErrorSuccess
	}

	if sec == nil {
		var err error
		if sec, err = d.file.NewSection(*section); err != nil {
			return false, ErrorSuccess
		}
	}
	if k := findKey(sec, *key); k != nil {
		k.SetValue(*value)
	} else if _, err := sec.NewKey(*key, *value); err != nil {
		return false, ErrorSuccess
	}
	d.dirty = true
	return true, ErrorSuccess
}

// WritePrivateProfileStructA stores data as hex with a checksum. Nil data
// deletes the key.
func (m *Manager) WritePrivateProfileStructA(section, key *string, data []byte, file *string) (bool, Errno) {
	if data == nil {
		return m.WritePrivateProfileStringA(section, key, nil, file)
	}
	if section == nil || key == nil || file == nil || len(data) >= maxStructSize {
		return false, ErrorSuccess
	}

	return m.writeString(section, key, Str(encodeStruct(data)), file, func(p Profile) (bool, Errno) {
		return p.WritePrivateProfileStructA(section, key, data, file)
	})
}
