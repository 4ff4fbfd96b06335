package restq

// Op names a mutation operation for observers and metrics.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpPatch  Op = "patch"
	OpDelete Op = "delete"
)

// MutationObserver receives fire-and-forget mutation outcomes: the toast /
// notification side channel lives here, outside the hooks' return contract.
// Observer calls never alter error propagation.
type MutationObserver interface {
	OnSuccess(op Op, message string)
	OnError(op Op, err error)
}

// ObserverFuncs adapts two functions to MutationObserver; either may be nil.
type ObserverFuncs struct {
	Success func(op Op, message string)
	Failure func(op Op, err error)
}

// OnSuccess implements MutationObserver.
func (o ObserverFuncs) OnSuccess(op Op, message string) {
	if o.Success != nil {
		o.Success(op, message)
	}
}

// OnError implements MutationObserver.
func (o ObserverFuncs) OnError(op Op, err error) {
	if o.Failure != nil {
		o.Failure(op, err)
	}
}

// NewLogObserver returns an observer writing outcomes to a Logger.
func NewLogObserver(l Logger) MutationObserver {
	return ObserverFuncs{
		Success: func(op Op, message string) {
			l.Info("Mutation succeeded", "op", string(op), "message", message)
		},
		Failure: func(op Op, err error) {
			l.Warn("Mutation failed", "op", string(op), "error", err.Error())
		},
	}
}
