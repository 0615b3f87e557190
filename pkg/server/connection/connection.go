package connection

// Connection 媒体连接的通用接口
type Connection interface {
	// ID 返回连接的唯一标识符
	ID() string
	// Done 连接断开或被停止后关闭
	Done() <-chan struct{}
	// Stop 停止连接并清理资源，可以重复调用
	Stop()
}
