// Package process spawns, observes and terminates the backend sidecar.
//
// A started backend is represented by a Handle, a closed interface with two
// variants:
//
//   - ChildHandle wraps a plain exec.Cmd. It is used for the development
//     invocation through the package runner.
//   - ManagedHandle wraps a Manager, which tracks status, uptime and exit
//     state and can stop the process group gracefully. It is used for the
//     bundled production executable.
//
// Both expose PID, a non-blocking TryWait and Kill. TreeKiller terminates a
// handle together with every descendant it spawned:
//
//	h, err := process.StartChild(cmd)
//	...
//	process.NewTreeKiller().KillTree(h)
//
// Descendants are found on a single snapshot of the OS process table and
// killed deepest first; the root is killed last through its own handle.
package process
