package dispatch

import (
	"fmt"

	"github.com/moby/sys/capability"
)

// capsByName maps the capability names accepted by CAPABILITY_SET /
// CAPABILITY_CLEAR (spec §6.2) to moby/sys/capability constants.
var capsByName = map[string]capability.Cap{
	"CAP_CHOWN":            capability.CAP_CHOWN,
	"CAP_DAC_OVERRIDE":     capability.CAP_DAC_OVERRIDE,
	"CAP_DAC_READ_SEARCH":  capability.CAP_DAC_READ_SEARCH,
	"CAP_FOWNER":           capability.CAP_FOWNER,
	"CAP_FSETID":           capability.CAP_FSETID,
	"CAP_KILL":             capability.CAP_KILL,
	"CAP_SETGID":           capability.CAP_SETGID,
	"CAP_SETUID":           capability.CAP_SETUID,
	"CAP_SETPCAP":          capability.CAP_SETPCAP,
	"CAP_NET_ADMIN":        capability.CAP_NET_ADMIN,
	"CAP_NET_BIND_SERVICE": capability.CAP_NET_BIND_SERVICE,
	"CAP_NET_RAW":          capability.CAP_NET_RAW,
	"CAP_SYS_ADMIN":        capability.CAP_SYS_ADMIN,
	"CAP_SYS_BOOT":         capability.CAP_SYS_BOOT,
	"CAP_SYS_CHROOT":       capability.CAP_SYS_CHROOT,
	"CAP_SYS_MODULE":       capability.CAP_SYS_MODULE,
	"CAP_SYS_PTRACE":       capability.CAP_SYS_PTRACE,
	"CAP_SYS_TIME":         capability.CAP_SYS_TIME,
	"CAP_MKNOD":            capability.CAP_MKNOD,
	"CAP_IPC_LOCK":         capability.CAP_IPC_LOCK,
}

func resolveCaps(names []string) ([]capability.Cap, error) {
	out := make([]capability.Cap, 0, len(names))
	for _, n := range names {
		c, ok := capsByName[n]
		if !ok {
			return nil, fmt.Errorf("dispatch: unknown capability name %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}

// applyCapabilities adjusts pid's effective/permitted/inheritable sets
// per t's CAPABILITY_SET / CAPABILITY_CLEAR (spec §3, compiled-in
// capability support, Design Note "cgroup/capability enforcement").
// Failures are non-fatal to the task: the spec treats capability/
// cgroup application as passing configured values through, not as an
// enforced precondition for a task to run.
func applyCapabilities(pid int, set, clear []string) error {
	if len(set) == 0 && len(clear) == 0 {
		return nil
	}
	caps, err := capability.NewPid2(pid)
	if err != nil {
		return fmt.Errorf("dispatch: capability.NewPid2(%d): %w", pid, err)
	}
	if err := caps.Load(); err != nil {
		return fmt.Errorf("dispatch: load capabilities for pid %d: %w", pid, err)
	}

	setCaps, err := resolveCaps(set)
	if err != nil {
		return err
	}
	clearCaps, err := resolveCaps(clear)
	if err != nil {
		return err
	}

	kinds := capability.EFFECTIVE | capability.PERMITTED | capability.INHERITABLE
	if len(setCaps) > 0 {
		caps.Set(kinds, setCaps...)
	}
	if len(clearCaps) > 0 {
		caps.Unset(kinds, clearCaps...)
	}
	if err := caps.Apply(capability.CAPS); err != nil {
		return fmt.Errorf("dispatch: apply capabilities for pid %d: %w", pid, err)
	}
	return nil
}
