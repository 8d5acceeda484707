package process

import (
	"errors"
	"fmt"
	"slices"

	gproc "github.com/shirou/gopsutil/v4/process"
)

// ProcInfo is one row of a process table snapshot.
type ProcInfo struct {
	PID  int32
	PPID int32
	// CreateTime is in milliseconds since the epoch; 0 if unknown.
	CreateTime int64
}

// Snapshot is a point-in-time view of the process table indexed by PID.
type Snapshot struct {
	procs    map[int32]ProcInfo
	children map[int32][]int32
}

// NewSnapshot indexes the given rows. Duplicate PIDs keep the last row.
func NewSnapshot(rows []ProcInfo) *Snapshot {
	s := &Snapshot{
		procs:    make(map[int32]ProcInfo, len(rows)),
		children: make(map[int32][]int32),
	}
	for _, r := range rows {
		s.procs[r.PID] = r
	}
	for pid, r := range s.procs {
		if r.PPID != pid {
			s.children[r.PPID] = append(s.children[r.PPID], pid)
		}
	}
	for ppid := range s.children {
		slices.Sort(s.children[ppid])
	}
	return s
}

// TakeSnapshot reads the live OS process table once.
// Processes that vanish while being read are left out.
func TakeSnapshot() (*Snapshot, error) {
	procs, err := gproc.Processes()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	rows := make([]ProcInfo, 0, len(procs))
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		created, _ := p.CreateTime() //nolint:errcheck // 0 disables the reuse check for this row
		rows = append(rows, ProcInfo{PID: p.Pid, PPID: ppid, CreateTime: created})
	}
	return NewSnapshot(rows), nil
}

// Len returns the number of processes in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.procs)
}

// Lookup returns the row for pid.
func (s *Snapshot) Lookup(pid int32) (ProcInfo, bool) {
	r, ok := s.procs[pid]
	return r, ok
}

// Descendants returns every process whose parent chain leads to root, in
// depth-first discovery order: each process precedes its own children.
// The root itself is not included.
func (s *Snapshot) Descendants(root int32) []int32 {
	var order []int32
	seen := map[int32]bool{root: true}

	stack := pushReversed(nil, s.children[root])
	for len(stack) > 0 {
		pid := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[pid] {
			continue
		}
		seen[pid] = true
		order = append(order, pid)
		stack = pushReversed(stack, s.children[pid])
	}
	return order
}

// pushReversed pushes pids so the lowest one is popped first.
func pushReversed(stack, pids []int32) []int32 {
	for i := len(pids) - 1; i >= 0; i-- {
		stack = append(stack, pids[i])
	}
	return stack
}

// errGone marks a process that exited or was replaced since the snapshot.
var errGone = errors.New("process no longer present")

// TreeKiller terminates a backend handle and all of its descendants.
type TreeKiller struct {
	snapshot func() (*Snapshot, error)
	killPID  func(ProcInfo) error
	logger   Logger
}

// NewTreeKiller returns a TreeKiller backed by the live process table.
func NewTreeKiller() *TreeKiller {
	return &TreeKiller{
		snapshot: TakeSnapshot,
		killPID:  killSnapshotted,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger used for kill failures.
func (k *TreeKiller) SetLogger(logger Logger) {
	k.logger = logger
}

// KillTree kills every descendant of h deepest first, then h itself.
//
// It is best effort: failures are logged and never returned, and processes
// that exited since the snapshot are skipped. Only PIDs present in the
// single snapshot are ever targeted.
func (k *TreeKiller) KillTree(h Handle) {
	root := h.PID()

	snap, err := k.snapshot()
	if err != nil {
		k.logger.Warn("process snapshot failed, killing root only", "pid", root, "error", err)
		snap = NewSnapshot(nil)
	}

	order := snap.Descendants(int32(root)) //nolint:gosec // PIDs fit in int32 on every supported OS
	killed := 0
	for i := len(order) - 1; i >= 0; i-- {
		info, _ := snap.Lookup(order[i])
		switch err := k.killPID(info); {
		case err == nil:
			killed++
		case errors.Is(err, errGone):
			k.logger.Debug("descendant already gone", "pid", info.PID)
		default:
			k.logger.Warn("failed to kill descendant", "pid", info.PID, "root", root, "error", err)
		}
	}

	if err := h.Kill(); err != nil {
		k.logger.Warn("failed to kill backend process", "pid", root, "error", err)
	}

	k.logger.Info("process tree terminated",
		"pid", root,
		"descendants", len(order),
		"killed", killed,
	)
}

// killSnapshotted kills info.PID if it is still the process seen in the
// snapshot. A changed creation time means the PID was reused.
func killSnapshotted(info ProcInfo) error {
	p, err := gproc.NewProcess(info.PID)
	if err != nil {
		return errGone
	}
	if info.CreateTime != 0 {
		created, err := p.CreateTime()
		if err != nil || created != info.CreateTime {
			return errGone
		}
	}
	if err := p.Kill(); err != nil {
		if exists, _ := gproc.PidExists(info.PID); !exists { //nolint:errcheck // treated as gone
			return errGone
		}
		return err
	}
	return nil
}
