//go:build windows

package ckpe

import (
	"fmt"
	"os"

	"github.com/pboyd/ckpe/internal/config"
	"github.com/pboyd/ckpe/patches"
	"github.com/pboyd/ckpe/procmem"
	"github.com/pboyd/ckpe/relocator"
)

// arenaSize is the executable memory reserved for thunks and trampolines.
const arenaSize = 1 << 20

// Attach patches the executable of the current process with the shipped
// patches, configured from the INI file at configPath.
func Attach(configPath, databasePath string) (*Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger(os.Stderr)

	img, err := procmem.Self()
	if err != nil {
		return nil, fmt.Errorf("attach: %w", err)
	}

	arena, err := relocator.NewArenaAllocator(arenaSize, img.Base())
	if err != nil {
		return nil, fmt.Errorf("attach: %w", err)
	}

	host := patches.NewSystemHost(cfg, log)
	return Start(img, patches.Default(host), Config{
		Database:  databasePath,
		Options:   cfg,
		Logger:    log,
		Allocator: arena,
	})
}
