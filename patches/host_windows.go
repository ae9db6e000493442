//go:build windows

package patches

import (
	"log/slog"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/pboyd/ckpe/module"
	"github.com/pboyd/ckpe/patches/inicache"
	"github.com/pboyd/ckpe/patches/pointerhandle"
)

// handleDLL holds the native handle manager. Without it the stock manager
// stays in place.
const handleDLL = "ckpe_handles.dll"

var handleExports = map[pointerhandle.Role]string{
	pointerhandle.Create:  "HandleCreate",
	pointerhandle.Release: "HandleRelease",
	pointerhandle.Lookup:  "HandleLookup",
	pointerhandle.Compact: "HandleCompact",
}

// SystemHost is the Host of the running editor process.
type SystemHost struct {
	opts    module.Options
	log     *slog.Logger
	manager *inicache.Manager
	hooks   *inicache.SystemHooks
	quit    uintptr
	handles *windows.LazyDLL
}

// NewSystemHost builds the native hooks. It must be called once per
// process: callbacks are never released.
func NewSystemHost(opts module.Options, log *slog.Logger) *SystemHost {
	m := inicache.New(inicache.Options{Logger: log})
	return &SystemHost{
		opts:    opts,
		log:     log,
		manager: m,
		hooks:   inicache.NewSystemHooks(m),
		quit:    syscall.NewCallback(quit),
		handles: windows.NewLazyDLL(handleDLL),
	}
}

func quit() uintptr {
	windows.TerminateProcess(windows.CurrentProcess(), 0)
	return 0
}

func (h *SystemHost) Profiles() (*inicache.Manager, inicache.Hooks) { return h.manager, h.hooks }

func (h *SystemHost) QuitRoutine() uintptr { return h.quit }

func (h *SystemHost) Options() module.Options { return h.opts }

// HandleRoutines resolves the replacement routines from handleDLL. The
// aggressive variant of each export has an "Extreme" suffix.
func (h *SystemHost) HandleRoutines() pointerhandle.Routines {
	return func(role pointerhandle.Role, extreme bool) uintptr {
		name, ok := handleExports[role]
		if !ok {
			return 0
		}
		if extreme {
			name += "Extreme"
		}
		proc := h.handles.NewProc(name)
		if err := proc.Find(); err != nil {
			h.log.Warn("handle routine unavailable", slog.String("export", name), slog.Any("error", err))
			return 0
		}
		return proc.Addr()
	}
}
