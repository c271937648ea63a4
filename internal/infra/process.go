// Package infra implements the storage, key and process adapters used by
// the engine and the daemon.
package infra

import (
	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// List returns a snapshot of running processes. Processes that exit while
// being inspected are skipped.
func (pm *ProcessManagerImpl) List() ([]domain.Process, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	out := make([]domain.Process, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name == "" {
			continue
		}
		exe, _ := p.Exe()
		out = append(out, domain.Process{PID: int(p.Pid), Name: name, Exe: exe})
	}
	return out, nil
}

// Kill terminates a process by PID using SIGKILL.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
