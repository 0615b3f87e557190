package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidState 在当前状态下不允许该操作
var ErrInvalidState = errors.New("conversation: invalid state")

// InitializationError 某个协作者启动失败，已启动的协作者都已停止
type InitializationError struct {
	Collaborator string
	Err          error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Collaborator, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}
