//go:build !windows

package main

func fileCleanupDelay() {}
