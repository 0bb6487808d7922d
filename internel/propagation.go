package internel

import "TXC/pkg"

type ActionKind int

const (
	ActionStartNew ActionKind = iota
	ActionParticipate
	ActionSuspendAndStartNew
	ActionStartNestedSavepoint
	ActionRunWithoutTransaction
	ActionReject
)

func (k ActionKind) String() string {
	switch k {
	case ActionStartNew:
		return "StartNew"
	case ActionParticipate:
		return "Participate"
	case ActionSuspendAndStartNew:
		return "SuspendAndStartNew"
	case ActionStartNestedSavepoint:
		return "StartNestedSavepoint"
	case ActionRunWithoutTransaction:
		return "RunWithoutTransaction"
	case ActionReject:
		return "Reject"
	default:
		return "Unknown"
	}
}

type Action struct {
	Kind ActionKind
	//SuspendAndStartNew 时是否真的开启新事务, NOT_SUPPORTED 只挂起
	NewTransaction bool
	//Reject 的原因
	Err error
}

// Decide 根据传播行为和当前绑定决定 begin 的动作, 不产生任何副作用.
// savepoints 表示当前绑定的资源是否可用保存点
func Decide(propagation pkg.Propagation, current *Binding, savepoints bool) Action {
	if current == nil {
		switch propagation {
		case pkg.PropagationRequired, pkg.PropagationRequiresNew, pkg.PropagationNested:
			return Action{Kind: ActionStartNew, NewTransaction: true}
		case pkg.PropagationMandatory:
			return Action{Kind: ActionReject, Err: pkg.ErrNoActiveTransaction}
		default:
			//SUPPORTS / NOT_SUPPORTED / NEVER
			return Action{Kind: ActionRunWithoutTransaction}
		}
	}

	switch propagation {
	case pkg.PropagationRequiresNew:
		return Action{Kind: ActionSuspendAndStartNew, NewTransaction: true}
	case pkg.PropagationNested:
		if savepoints {
			return Action{Kind: ActionStartNestedSavepoint}
		}
		return Action{Kind: ActionSuspendAndStartNew, NewTransaction: true}
	case pkg.PropagationNotSupported:
		return Action{Kind: ActionSuspendAndStartNew}
	case pkg.PropagationNever:
		return Action{Kind: ActionReject, Err: pkg.ErrExistingTransactionForbidden}
	default:
		//REQUIRED / SUPPORTS / MANDATORY
		return Action{Kind: ActionParticipate}
	}
}
