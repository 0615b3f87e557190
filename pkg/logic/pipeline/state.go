package pipeline

// State 对话的生命周期状态，只会向前推进
type State int

const (
	StateCreated State = iota
	StateStarting
	StateActive
	StateTerminating
	StateTerminated
)

// String 返回状态的字符串表示
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StateTerminating:
		return "TERMINATING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}
