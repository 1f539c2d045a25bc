package rate

import (
	"context"
	"sync"
	"time"
)

// SleepFunc: 可取消的睡眠（测试中可替换为记录型实现）。
type SleepFunc func(ctx context.Context, d time.Duration) error

// Pacer: 顺序调用之间的固定间隔。
// 首次调用不等待；之后每次调用前无条件睡眠 delay，与上一次调用耗时无关。
// delay<=0 时不等待。
type Pacer struct {
	mu    sync.Mutex
	delay time.Duration
	sleep SleepFunc
	calls int
}

// NewPacer 创建节拍器；sleep 为空则使用 context 感知的真实睡眠。
func NewPacer(delay time.Duration, sleep SleepFunc) *Pacer {
	if sleep == nil {
		sleep = sleepCtx
	}
	return &Pacer{delay: delay, sleep: sleep}
}

// Wait 在第二次及以后的调用前睡眠固定间隔；ctx 取消时返回 ctx.Err()。
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	p.mu.Lock()
	first := p.calls == 0
	p.calls++
	p.mu.Unlock()
	if first || p.delay <= 0 {
		return nil
	}
	return p.sleep(ctx, p.delay)
}

// Delay 返回配置的间隔。
func (p *Pacer) Delay() time.Duration {
	if p == nil {
		return 0
	}
	return p.delay
}

// Calls 返回已放行次数（仅诊断）。
func (p *Pacer) Calls() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	// 若 d 很长，分片为最多 200ms 的步长，及时响应取消
	const step = 200 * time.Millisecond
	for d > 0 {
		s := d
		if s > step {
			s = step
		}
		t := time.NewTimer(s)
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return ctx.Err()
		case <-t.C:
		}
		d -= s
	}
	return nil
}
