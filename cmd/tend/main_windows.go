//go:build windows

package main

import "time"

// fileCleanupDelay: Windows 上等待 SQLite 文件句柄完全释放
func fileCleanupDelay() {
	time.Sleep(500 * time.Millisecond)
}
