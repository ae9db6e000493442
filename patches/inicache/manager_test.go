package inicache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/ini.v1"
)

const sampleINI = `; editor settings
[General]
sLanguage=ENGLISH
sQuoted = "  spaced "
iSize=0x20
iCount=12
sPath=Data\Textures\

[Display]
fGamma = 1.0000
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m := New(Options{Getwd: func() (string, error) { return dir, nil }})
	return m, writeFile(t, dir, "CreationKit.ini", sampleINI)
}

func filled(n int) []byte {
	return bytes.Repeat([]byte{0xaa}, n)
}

func TestGetString_MissingKeyUsesDefault(t *testing.T) {
	assert := assert.New(t)
	m, path := newManager(t)

	dst := filled(16)
	n, errno := m.GetPrivateProfileStringA(Str("General"), Str("sMissing"), Str("dflt"), dst, &path)
	assert.Equal(uint32(4), n)
	assert.Equal(ErrorFileNotFound, errno)
	assert.Equal([]byte("dflt\x00"), dst[:5])
	assert.Equal(filled(11), dst[5:], "bytes past the terminator are untouched")

	dst = filled(4)
	n, _ = m.GetPrivateProfileStringA(Str("General"), Str("sMissing"), nil, dst, &path)
	assert.Equal(uint32(0), n)
	assert.Equal(byte(0), dst[0])
}

func TestGetString_NoFile(t *testing.T) {
	m, _ := newManager(t)

	dst := filled(8)
	n, errno := m.GetPrivateProfileStringA(Str("General"), Str("sLanguage"), Str("dflt"), dst, Str(""))
	assert.Equal(t, uint32(4), n)
	assert.Equal(t, ErrorFileNotFound, errno)
	assert.Equal(t, []byte("dflt\x00"), dst[:5])

	n, errno = m.GetPrivateProfileStringA(Str("General"), Str("sLanguage"), nil, dst, nil)
	assert.Equal(t, uint32(0), n)
	assert.Equal(t, ErrorFileNotFound, errno)
}

func TestGetString_Value(t *testing.T) {
	assert := assert.New(t)
	m, path := newManager(t)

	dst := make([]byte, 32)
	n, errno := m.GetPrivateProfileStringA(Str("general"), Str("SLANGUAGE"), nil, dst, &path)
	assert.Equal(ErrorSuccess, errno)
	assert.Equal("ENGLISH", string(dst[:n]))

	n, _ = m.GetPrivateProfileStringA(Str("General"), Str("sQuoted"), nil, dst, &path)
	assert.Equal("  spaced ", string(dst[:n]))

	n, _ = m.GetPrivateProfileStringA(Str("General"), Str("sPath"), nil, dst, &path)
	assert.Equal(`Data\Textures\`, string(dst[:n]))

	small := make([]byte, 4)
	n, _ = m.GetPrivateProfileStringA(Str("General"), Str("sLanguage"), nil, small, &path)
	assert.Equal(uint32(3), n)
	assert.Equal([]byte("ENG\x00"), small)

	n, errno = m.GetPrivateProfileStringA(Str("General"), Str("sLanguage"), nil, nil, &path)
	assert.Equal(uint32(0), n)
	assert.Equal(ErrorSuccess, errno)
}

func TestGetString_Wide(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "wide.ini", "[Names]\nsCity=M\xfcnchen\n")
	m := New(Options{})

	dst := make([]uint16, 16)
	n, errno := m.GetPrivateProfileStringW(Str("Names"), Str("sCity"), nil, dst, &path)
	assert.Equal(t, ErrorSuccess, errno)
	assert.Equal(t, "München", DecodeWide(dst[:n]))

	narrow := make([]byte, 16)
	n, _ = m.GetPrivateProfileStringA(Str("Names"), Str("sCity"), nil, narrow, &path)
	assert.Equal(t, []byte("M\xfcnchen"), narrow[:n])
}

func TestGetString_Enumerate(t *testing.T) {
	assert := assert.New(t)
	m, path := newManager(t)

	dst := make([]byte, 32)
	n, _ := m.GetPrivateProfileStringA(nil, nil, nil, dst, &path)
	assert.Equal("General\x00Display\x00\x00", string(dst[:n+1]))

	dst = make([]byte, 10)
	n, _ = m.GetPrivateProfileStringA(nil, nil, nil, dst, &path)
	assert.Equal(uint32(8), n)
	assert.Equal("General\x00\x00\x00", string(dst))

	dst = make([]byte, 64)
	n, _ = m.GetPrivateProfileStringA(Str("GENERAL"), nil, nil, dst, &path)
	assert.Equal("sLanguage\x00sQuoted\x00iSize\x00iCount\x00sPath\x00\x00", string(dst[:n+1]))

	n, _ = m.GetPrivateProfileStringA(Str("Nope"), nil, nil, dst, &path)
	assert.Equal(uint32(0), n)
	assert.Equal([]byte{0, 0}, dst[:2])
}

func TestGetInt(t *testing.T) {
	assert := assert.New(t)
	m, path := newManager(t)

	v, errno := m.GetPrivateProfileIntA(Str("General"), Str("iSize"), 5, &path)
	assert.Equal(uint32(0x20), v)
	assert.Equal(ErrorSuccess, errno)

	v, _ = m.GetPrivateProfileIntW(Str("general"), Str("icount"), 5, &path)
	assert.Equal(uint32(12), v)

	v, errno = m.GetPrivateProfileIntA(Str("General"), Str("iMissing"), -3, &path)
	assert.Equal(uint32(0xfffffffd), v)
	assert.Equal(ErrorFileNotFound, errno)

	v, errno = m.GetPrivateProfileIntA(Str("General"), nil, 7, &path)
	assert.Equal(uint32(7), v)
	assert.Equal(ErrorSuccess, errno)

	v, errno = m.GetPrivateProfileIntA(Str("General"), Str("iSize"), 7, Str(""))
	assert.Equal(uint32(7), v)
	assert.Equal(ErrorFileNotFound, errno)
}

func TestWriteString(t *testing.T) {
	assert := assert.New(t)
	m, path := newManager(t)
	dst := make([]byte, 32)

	ok, errno := m.WritePrivateProfileStringA(Str("general"), Str("slanguage"), Str("FRENCH"), &path)
	assert.True(ok)
	assert.Equal(ErrorSuccess, errno)
	n, _ := m.GetPrivateProfileStringA(Str("General"), Str("sLanguage"), nil, dst, &path)
	assert.Equal("FRENCH", string(dst[:n]))

	ok, _ = m.WritePrivateProfileStringW(Str("New"), Str("bFlag"), Str("1"), &path)
	assert.True(ok)
	v, _ := m.GetPrivateProfileIntA(Str("new"), Str("bflag"), 0, &path)
	assert.Equal(uint32(1), v)

	ok, _ = m.WritePrivateProfileStringA(Str("General"), Str("iCount"), nil, &path)
	assert.True(ok)
	_, errno = m.GetPrivateProfileIntA(Str("General"), Str("iCount"), 0, &path)
	assert.Equal(ErrorFileNotFound, errno)

	ok, _ = m.WritePrivateProfileStringA(Str("Display"), nil, nil, &path)
	assert.True(ok)
	n, _ = m.GetPrivateProfileStringA(nil, nil, nil, dst, &path)
	assert.Equal("General\x00New\x00\x00", string(dst[:n+1]))

	ok, errno = m.WritePrivateProfileStringA(nil, Str("k"), Str("v"), &path)
	assert.False(ok)
	assert.Equal(ErrorSuccess, errno)

	ok, errno = m.WritePrivateProfileStringA(Str("s"), Str("k"), Str("v"), Str(""))
	assert.False(ok)
	assert.Equal(ErrorFileNotFound, errno)

	require.NoError(t, m.Close())
	f, err := ini.LoadSources(loadOptions, path)
	require.NoError(t, err)
	assert.Equal("FRENCH", f.Section("General").Key("sLanguage").String())
	assert.False(f.Section("General").HasKey("iCount"))
	assert.Equal("1", f.Section("New").Key("bFlag").String())
	assert.False(f.HasSection("Display"))
}

func TestStruct(t *testing.T) {
	assert := assert.New(t)
	m, path := newManager(t)

	data := []byte{0x01, 0x02, 0xab}
	ok, _ := m.WritePrivateProfileStructA(Str("Window"), Str("Rect"), data, &path)
	assert.True(ok)

	raw := make([]byte, 16)
	n, _ := m.GetPrivateProfileStringA(Str("Window"), Str("Rect"), nil, raw, &path)
	assert.Equal("0102ABAE", string(raw[:n]))

	out := make([]byte, 3)
	ok, errno := m.GetPrivateProfileStructA(Str("Window"), Str("Rect"), out, &path)
	assert.True(ok)
	assert.Equal(ErrorSuccess, errno)
	assert.Equal(data, out)

	ok, errno = m.GetPrivateProfileStructA(Str("Window"), Str("Rect"), make([]byte, 2), &path)
	assert.False(ok)
	assert.Equal(ErrorInvalidData, errno)

	ok, errno = m.GetPrivateProfileStructA(Str("Window"), Str("Missing"), out, &path)
	assert.False(ok)
	assert.Equal(ErrorFileNotFound, errno)

	ok, _ = m.WritePrivateProfileStructA(Str("Window"), Str("Rect"), nil, &path)
	assert.True(ok)
	ok, _ = m.GetPrivateProfileStructA(Str("Window"), Str("Rect"), out, &path)
	assert.False(ok, "nil data deletes the key")
}

type fakeFallback struct {
	Profile
	calls []string
}

func (f *fakeFallback) GetPrivateProfileStringA(section, key, def *string, dst []byte, file *string) (uint32, Errno) {
	f.calls = append(f.calls, "GetPrivateProfileStringA "+*file)
	return copyValue(dst, []byte("system")), ErrorSuccess
}

func (f *fakeFallback) WritePrivateProfileStringA(section, key, value, file *string) (bool, Errno) {
	f.calls = append(f.calls, "WritePrivateProfileStringA "+*file)
	return true, ErrorSuccess
}

func TestPassthrough(t *testing.T) {
	fb := &fakeFallback{}
	m := New(Options{Fallback: fb})
	dst := make([]byte, 16)

	for _, file := range []string{"Relative.ini", `C:\Games\Fallout 4\ConstructionSetNetwork.ini`, "/games/constructionsetnetwork.INI"} {
		n, _ := m.GetPrivateProfileStringA(Str("s"), Str("k"), nil, dst, &file)
		assert.Equal(t, "system", string(dst[:n]), file)
	}
	ok, _ := m.WritePrivateProfileStringA(Str("s"), Str("k"), Str("v"), Str("Relative.ini"))
	assert.True(t, ok)

	assert.Len(t, fb.calls, 4)
	assert.Equal(t, 0, m.Len())
}

func TestPassthrough_NoFallback(t *testing.T) {
	m := New(Options{})
	dst := make([]byte, 16)
	n, errno := m.GetPrivateProfileStringA(Str("s"), Str("k"), Str("d"), dst, Str("Relative.ini"))
	assert.Equal(t, "d", string(dst[:n]))
	assert.Equal(t, ErrorFileNotFound, errno)
}

func TestUnparsableFileGoesToFallback(t *testing.T) {
	cases := map[string]string{
		"unclosed backtick": "[S]\na=`tick\nb=2\n",
		"backtick value":    "[S]\na=`x`\nb=2\n",
		"triple quote":      "[S]\na=\"\"\"x\nb=2\n",
		"quoted key":        "[S]\n\"a\"=1\nb=2\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			path := writeFile(t, t.TempDir(), "Broken.ini", content)

			fb := &fakeFallback{}
			m := New(Options{Fallback: fb})
			dst := make([]byte, 16)
			n, errno := m.GetPrivateProfileStringA(Str("S"), Str("b"), Str("d"), dst, &path)
			assert.Equal(ErrorSuccess, errno)
			assert.Equal("system", string(dst[:n]))

			ok, _ := m.WritePrivateProfileStringA(Str("S"), Str("c"), Str("3"), &path)
			assert.True(ok)
			assert.Equal([]string{"GetPrivateProfileStringA " + path, "WritePrivateProfileStringA " + path}, fb.calls)

			require.NoError(t, m.Close())
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(content, string(data), "the cache never writes the file")
		})
	}
}

func TestUnparsableFile_NoFallback(t *testing.T) {
	path := writeFile(t, t.TempDir(), "Broken.ini", "[S]\na=`tick\nb=2\n")
	m := New(Options{})

	dst := make([]byte, 16)
	n, errno := m.GetPrivateProfileStringA(Str("S"), Str("b"), Str("d"), dst, &path)
	assert.Equal(t, "d", string(dst[:n]))
	assert.Equal(t, ErrorFileNotFound, errno)

	ok, errno := m.WritePrivateProfileStringA(Str("S"), Str("c"), Str("3"), &path)
	assert.False(t, ok, "a write that cannot be persisted fails")
	assert.Equal(t, ErrorFileNotFound, errno)
}

func TestDuplicateKeys_FirstWins(t *testing.T) {
	assert := assert.New(t)
	path := writeFile(t, t.TempDir(), "Dup.ini", "[S]\nk=first\nk=second\n")
	m := New(Options{})

	dst := make([]byte, 16)
	n, errno := m.GetPrivateProfileStringA(Str("S"), Str("k"), nil, dst, &path)
	assert.Equal(ErrorSuccess, errno)
	assert.Equal("first", string(dst[:n]))

	ok, _ := m.WritePrivateProfileStringA(Str("S"), Str("K"), Str("changed"), &path)
	assert.True(ok)
	n, _ = m.GetPrivateProfileStringA(Str("S"), Str("k"), nil, dst, &path)
	assert.Equal("changed", string(dst[:n]))

	require.NoError(t, m.Close())
	f, err := ini.LoadSources(loadOptions, path)
	require.NoError(t, err)
	assert.Equal([]string{"changed", "second"}, f.Section("S").Key("k").ValueWithShadows())
}

func TestCheckQuoting(t *testing.T) {
	assert.NoError(t, checkQuoting(sampleINI))
	assert.NoError(t, checkQuoting("[S]\nk=a`b\nq=\"x\"\n"))
	assert.ErrorIs(t, checkQuoting("[S]\nk= `b\n"), errQuotedText)
}

func TestDotRelativePath(t *testing.T) {
	m, path := newManager(t)
	dst := make([]byte, 16)

	for _, file := range []string{"./CreationKit.ini", `.\CreationKit.ini`} {
		n, errno := m.GetPrivateProfileStringA(Str("General"), Str("sLanguage"), nil, dst, &file)
		assert.Equal(t, ErrorSuccess, errno, file)
		assert.Equal(t, "ENGLISH", string(dst[:n]), file)
	}

	_, _ = m.GetPrivateProfileStringA(Str("General"), Str("sLanguage"), nil, dst, &path)
	assert.Equal(t, 1, m.Len())
}

func TestCaseInsensitivePaths(t *testing.T) {
	m, path := newManager(t)
	dst := make([]byte, 16)

	_, _ = m.GetPrivateProfileStringA(Str("General"), Str("sLanguage"), nil, dst, &path)
	upper := filepath.Join(filepath.Dir(path), "CREATIONKIT.INI")
	n, errno := m.GetPrivateProfileStringA(Str("General"), Str("sLanguage"), nil, dst, &upper)
	assert.Equal(t, ErrorSuccess, errno)
	assert.Equal(t, "ENGLISH", string(dst[:n]))
	assert.Equal(t, 1, m.Len())
}

func TestClose_OnlyDirtyDocumentsWritten(t *testing.T) {
	dir := t.TempDir()
	const odd = "[A]\nkey   =   value ; not a comment\n"
	readOnly := writeFile(t, dir, "read.ini", odd)
	written := filepath.Join(dir, "new.ini")

	m := New(Options{})
	dst := make([]byte, 64)
	n, _ := m.GetPrivateProfileStringA(Str("A"), Str("key"), nil, dst, &readOnly)
	assert.Equal(t, "value ; not a comment", string(dst[:n]))

	ok, _ := m.WritePrivateProfileStringA(Str("B"), Str("k"), Str("v"), &written)
	require.True(t, ok)

	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Len())

	data, err := os.ReadFile(readOnly)
	require.NoError(t, err)
	assert.Equal(t, odd, string(data))

	data, err = os.ReadFile(written)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[B]\nk=v\n")
}

func TestConcurrentWrites(t *testing.T) {
	m, path := newManager(t)

	const writers, keys = 8, 50
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dst := make([]byte, 16)
			for k := range keys {
				key := fmt.Sprintf("k%d_%d", w, k)
				m.WritePrivateProfileStringA(Str("Load"), &key, Str("1"), &path)
				m.GetPrivateProfileStringA(Str("General"), Str("sLanguage"), nil, dst, &path)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, m.Close())
	f, err := ini.LoadSources(loadOptions, path)
	require.NoError(t, err)
	assert.Len(t, f.Section("Load").Keys(), writers*keys)
	assert.Equal(t, "ENGLISH", f.Section("General").Key("sLanguage").String())
}
