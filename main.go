package main

// Exit codes: 0 after a graceful shutdown, 1 for any fatal error returned by
// a command, daemon.ExitWatchdog when a cycle overruns its deadline.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}
