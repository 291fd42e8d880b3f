package doctor

import (
	"context"
	"fmt"
	"os"

	"github.com/moltbunker/tierstake/internal/config"
)

// ConfigChecker reports whether the config file loaded and validated.
type ConfigChecker struct {
	path string
	err  error
}

func NewConfigChecker(path string, loadErr error) *ConfigChecker {
	return &ConfigChecker{path: path, err: loadErr}
}

func (c *ConfigChecker) Name() string       { return "Config" }
func (c *ConfigChecker) Category() Category { return CategoryConfig }

func (c *ConfigChecker) Check(ctx context.Context) CheckResult {
	r := result(c)
	if c.err != nil {
		return r.fail("Config: Invalid", c.err.Error()).fix("stakingd config validate")
	}
	if c.path == "" {
		return r.ok("Config: Defaults")
	}
	if _, err := os.Stat(c.path); os.IsNotExist(err) {
		return r.warn("Config: Using defaults", c.path+" does not exist").fix("stakingd config init --owner <address>")
	}
	return r.ok("Config: " + c.path)
}

// OwnerChecker reports whether a fresh ledger would have an owner.
type OwnerChecker struct {
	cfg *config.Config
}

func NewOwnerChecker(cfg *config.Config) *OwnerChecker {
	return &OwnerChecker{cfg: cfg}
}

func (c *OwnerChecker) Name() string       { return "Ledger owner" }
func (c *OwnerChecker) Category() Category { return CategoryConfig }

func (c *OwnerChecker) Check(ctx context.Context) CheckResult {
	r := result(c)
	owner, err := c.cfg.Staking.OwnerAddress()
	if err != nil {
		return r.fail("Ledger owner: Not set", err.Error()).fix("stakingd config init --owner <address> --force")
	}
	msg := fmt.Sprintf("Ledger owner: %s, %d tiers", shortAddress(owner), len(c.cfg.Staking.Tiers))
	if len(c.cfg.Staking.Tiers) == 0 {
		return r.warn(msg, "A fresh ledger starts without tiers until the owner adds one")
	}
	return r.ok(msg)
}

// DataDirChecker reports whether the daemon can write its data directory.
type DataDirChecker struct {
	dir string
}

func NewDataDirChecker(dir string) *DataDirChecker {
	return &DataDirChecker{dir: dir}
}

func (c *DataDirChecker) Name() string       { return "Data directory" }
func (c *DataDirChecker) Category() Category { return CategoryPermissions }

func (c *DataDirChecker) Check(ctx context.Context) CheckResult {
	r := result(c)
	info, err := os.Stat(c.dir)
	if os.IsNotExist(err) {
		return r.ok("Data directory: " + c.dir + " (created on first start)")
	}
	if err != nil {
		return r.fail("Data directory: Unable to check", err.Error())
	}
	if !info.IsDir() {
		return r.fail("Data directory: Not a directory", c.dir)
	}

	f, err := os.CreateTemp(c.dir, ".doctor-*")
	if err != nil {
		return r.fail("Data directory: Not writable", err.Error())
	}
	f.Close()
	os.Remove(f.Name())

	if info.Mode().Perm()&0o077 != 0 {
		return r.warn("Data directory: "+c.dir,
			fmt.Sprintf("Permissions %o allow other users to read the ledger store", info.Mode().Perm())).
			fix("chmod 700 " + c.dir)
	}
	return r.ok("Data directory: " + c.dir)
}
