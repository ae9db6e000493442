package inicache

// Errno is the thread "last error" value an API call leaves behind.
type Errno uint32

const (
	ErrorSuccess      Errno = 0
	ErrorFileNotFound Errno = 2
	ErrorInvalidData  Errno = 13
)

// maxStructSize is the first struct size the struct APIs refuse.
const maxStructSize = 0x7ffffffa

// Profile is the private profile API surface the cache replaces. Optional
// parameters are nil pointers. Buffers are sized in characters of their
// encoding: bytes for the narrow calls, UTF-16 code units for the wide ones.
type Profile interface {
	GetPrivateProfileIntA(section, key *string, def int32, file *string) (uint32, Errno)
	GetPrivateProfileIntW(section, key *string, def int32, file *string) (uint32, Errno)
	GetPrivateProfileStringA(section, key, def *string, dst []byte, file *string) (uint32, Errno)
	GetPrivateProfileStringW(section, key, def *string, dst []uint16, file *string) (uint32, Errno)
	GetPrivateProfileStructA(section, key *string, dst []byte, file *string) (bool, Errno)
	WritePrivateProfileStringA(section, key, value, file *string) (bool, Errno)
	WritePrivateProfileStringW(section, key, value, file *string) (bool, Errno)
	WritePrivateProfileStructA(section, key *string, data []byte, file *string) (bool, Errno)
}

// APIs lists the kernel32 exports the cache hooks.
var APIs = []string{
	"GetPrivateProfileIntA",
	"GetPrivateProfileStringA",
	"GetPrivateProfileStructA",
	"WritePrivateProfileStringA",
	"WritePrivateProfileStructA",
	"GetPrivateProfileIntW",
	"GetPrivateProfileStringW",
	"WritePrivateProfileStringW",
}

// Str returns a pointer to s, for optional string parameters.
func Str(s string) *string { return &s }
