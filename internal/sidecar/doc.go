// Package sidecar supervises the Python backend the desktop GUI talks to.
//
// A Supervisor launches the backend exactly once per host run, either from
// source through the uv package runner (development) or as the bundled
// per-platform executable (production). It then polls the backend's health
// endpoint until it answers, the process exits, or the readiness timeout
// elapses, and reports the outcome as a single backend-ready or
// backend-error event. Failure messages carry a trimmed tail of the
// backend log so they can be diagnosed without opening the file.
//
// The backend's stdout and stderr are appended to one log file. LogStore
// serves it to the frontend incrementally by byte offset, and LogWatcher
// announces growth with backend-log-updated events.
//
// On shutdown the whole process tree is killed, deepest processes first,
// so runner-spawned workers do not outlive the host.
package sidecar
