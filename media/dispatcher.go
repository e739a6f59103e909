package media

// Dispatcher is the host framework's work-item queue. Every asynchronous
// source operation is a single work item; completions run on the dispatcher,
// never on the caller's goroutine.
type Dispatcher interface {
	Dispatch(fn func()) error
}

// GoDispatcher runs each work item on its own goroutine. It is the fallback
// when the host does not supply a pooled dispatcher.
type GoDispatcher struct{}

func (GoDispatcher) Dispatch(fn func()) error {
	go fn()
	return nil
}
