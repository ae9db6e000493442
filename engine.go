package ckpe

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pboyd/ckpe/module"
	"github.com/pboyd/ckpe/procmem"
	"github.com/pboyd/ckpe/relocator"
	"github.com/pboyd/ckpe/reldb"
)

// Config configures an Engine.
type Config struct {
	// Database is the path of the compiled relocation database.
	Database string
	// Options switches modules on and off. By default every toggleable
	// module is off.
	Options module.Options
	Logger  *slog.Logger
	// Allocator provides executable memory for thunks and trampolines.
	Allocator relocator.Allocator
}

// Engine is one patching session over a loaded image.
type Engine struct {
	img    procmem.Image
	log    *slog.Logger
	reloc  *relocator.Relocator
	driver *module.Driver
	report *module.Report
}

// Fingerprint reads the build fingerprint from the image's headers.
func Fingerprint(img procmem.Image) (reldb.Fingerprint, error) {
	h, err := procmem.ReadHeaders(img)
	if err != nil {
		return reldb.Fingerprint{}, err
	}
	return reldb.Fingerprint{
		ImageSize:     h.ImageSize,
		TimeDateStamp: h.TimeDateStamp,
		CheckSum:      h.CheckSum,
	}, nil
}

// Start identifies the build of img and activates mods against it. A
// database that is missing, corrupt or does not know the build is not an
// error: every module is reported inapplicable and img is left alone.
func Start(img procmem.Image, mods []module.Module, cfg Config) (*Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	reg, err := module.NewRegistry(mods...)
	if err != nil {
		return nil, err
	}

	fp, err := Fingerprint(img)
	if err != nil {
		return nil, fmt.Errorf("fingerprint image: %w", err)
	}
	log.Debug("image fingerprinted", slog.String("fingerprint", fp.String()))

	ropts := []relocator.Option{relocator.WithLogger(log)}
	if cfg.Allocator != nil {
		ropts = append(ropts, relocator.WithAllocator(cfg.Allocator))
	}
	reloc := relocator.New(img, ropts...)

	dopts := []module.DriverOption{module.WithLogger(log)}
	if cfg.Options != nil {
		dopts = append(dopts, module.WithOptions(cfg.Options))
	}
	e := &Engine{
		img:    img,
		log:    log,
		reloc:  reloc,
		driver: module.NewDriver(reg, reloc, dopts...),
	}

	build, items := identify(log, cfg.Database, fp)
	report, err := e.driver.Run(build, items)
	if err != nil {
		return nil, err
	}
	e.report = report

	log.Info("patching done",
		slog.String("build", build.String()),
		slog.Int("activated", report.Count(module.Activated)),
		slog.Int("failed", report.Count(module.Failed)))
	return e, nil
}

// identify returns the build and its items, or a nil item set when the
// build cannot be determined.
func identify(log *slog.Logger, path string, fp reldb.Fingerprint) (reldb.BuildIdentity, *reldb.ItemSet) {
	db, err := reldb.LoadFile(path)
	switch {
	case errors.Is(err, reldb.ErrDatabaseMissing):
		log.Warn("relocation database missing", slog.String("path", path))
		return reldb.BuildIdentity{}, nil
	case err != nil:
		log.Error("relocation database unusable", slog.String("path", path), slog.Any("error", err))
		return reldb.BuildIdentity{}, nil
	}

	build, ok := db.Identify(fp)
	if !ok {
		log.Warn("unknown build", slog.String("fingerprint", fp.String()))
		return reldb.BuildIdentity{}, nil
	}
	items, _ := db.Lookup(build)
	return build, items
}

// Report returns the outcome of activation.
func (e *Engine) Report() *module.Report { return e.report }

// Relocator returns the relocator the modules were activated with.
func (e *Engine) Relocator() *relocator.Relocator { return e.reloc }

// Shutdown disables one module at runtime.
func (e *Engine) Shutdown(name string) error {
	return e.driver.Shutdown(name)
}

// Close tears the session down: runtime disableable modules are shut down
// and caches are flushed.
func (e *Engine) Close() error {
	err := e.driver.Close()
	if err != nil {
		e.log.Error("teardown failed", slog.Any("error", err))
	}
	return err
}
