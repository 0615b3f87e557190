package orchestrator

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// NotifyInterrupt 把进程信号转换为对 o 的终止请求，默认监听 SIGINT 和 SIGTERM。
// 返回的 stop 注销信号处理，可以重复调用。
func NotifyInterrupt(o *Orchestrator, signals ...os.Signal) (stop func()) {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)

	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				o.RequestTermination()
			case <-quit:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}
