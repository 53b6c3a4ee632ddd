package dispatch

import (
	"fmt"
	"strconv"

	"github.com/opencontainers/cgroups"
	"github.com/opencontainers/cgroups/manager"
)

// applyCgroup places pid into the named cgroup with the given
// parameters (spec §3 optional cgroup reference, Design Note "cgroup/
// capability enforcement": the core passes configured values through
// rather than pinning enforcement semantics). Unrecognized parameter
// keys fall back to the resource's Unified map, matching how a raw
// cgroupfs key (e.g. "cpu.max") would be written directly.
func applyCgroup(name string, params map[string]string, pid int) error {
	if name == "" {
		return nil
	}

	res := &cgroups.Resources{Unified: map[string]string{}}
	for k, v := range params {
		switch k {
		case "cpu.weight", "CPU_WEIGHT":
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				res.CpuWeight = n
				continue
			}
		case "memory.max", "MEMORY_MAX":
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				res.Memory = n
				continue
			}
		case "pids.max", "PIDS_MAX":
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				res.PidsLimit = n
				continue
			}
		}
		res.Unified[k] = v
	}

	cg := &cgroups.Cgroup{
		Name:      name,
		Path:      "/crinit/" + name,
		Resources: res,
	}

	mgr, err := manager.New(cg)
	if err != nil {
		return fmt.Errorf("dispatch: create cgroup manager for %q: %w", name, err)
	}
	if err := mgr.Apply(pid); err != nil {
		return fmt.Errorf("dispatch: apply cgroup %q to pid %d: %w", name, pid, err)
	}
	if err := mgr.Set(res); err != nil {
		return fmt.Errorf("dispatch: set cgroup %q resources: %w", name, err)
	}
	return nil
}
