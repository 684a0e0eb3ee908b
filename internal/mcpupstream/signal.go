package mcpupstream

import "syscall"

// stdioTermSignal is sent to a stdio upstream child before the grace
// window in shutdown(); force-kill follows if it doesn't exit in time.
var stdioTermSignal = syscall.SIGTERM
