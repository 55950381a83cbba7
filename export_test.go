package redeem

// WaitIdle blocks until every in-flight activation unit has returned.
func (e *Engine) WaitIdle() { e.inflight.Wait() }

// Supervise runs loop as a background worker that Stop waits for.
func (e *Engine) Supervise(name string, loop func()) {
	e.wg.Add(1)
	go e.supervise(name, loop)
}
