package main

// exitSentinel is panicked by the test-only osExit replacement so a
// deferred recover can unwind the call stack the same way a real
// os.Exit would halt the process.
type exitSentinel int
