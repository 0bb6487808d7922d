package pkg

import "time"

//该文件记录物理事务日志的状态, 以及单个物理事务的日志变量

type TXStatus string

const (
	TXActive     TXStatus = "Active"
	TXCommitted  TXStatus = "Committed"
	TXRolledBack TXStatus = "RolledBack"
	//超过超时时间仍未结束, 由巡检标记
	TXExpired TXStatus = "Expired"
)

func (s TXStatus) String() string {
	return string(s)
}

func (s TXStatus) Finished() bool {
	return s == TXCommitted || s == TXRolledBack
}

type PhysicalTX struct {
	TXid        string        `json:"tx_id"`
	ContextID   ContextID     `json:"context_id"`
	Name        string        `json:"name"`
	Propagation Propagation   `json:"propagation"`
	ReadOnly    bool          `json:"read_only"`
	Timeout     time.Duration `json:"timeout"`
	TxStatus    TXStatus      `json:"tx_status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// GetStatus 计算日志中物理事务的状态, 没有自身超时的事务使用 defaultTimeout
func (t PhysicalTX) GetStatus(now time.Time, defaultTimeout time.Duration) TXStatus {
	if t.TxStatus != TXActive {
		return t.TxStatus
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout > 0 && t.CreatedAt.Add(timeout).Before(now) {
		return TXExpired
	}
	return TXActive
}
