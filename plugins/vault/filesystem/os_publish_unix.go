//go:build !windows

package filesystem

import (
	"os"
)

// osPublish 以硬链接发布临时文件：目标已存在时 link(2) 返回 EEXIST，不会覆盖。
// 链接成功即视为已发布；临时文件清理失败只留下残余，不影响结果。
func osPublish(tmpPath, dest string) error {
	if err := os.Link(tmpPath, dest); err != nil {
		return err
	}
	_ = removeTemp(tmpPath)
	return nil
}

// syncDir best-effort fsync parent directory to persist metadata.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return err
	}
	return nil
}
