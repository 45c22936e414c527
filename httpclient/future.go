package httpclient

// Call is a request in flight, returned by Client.Go.
//
// It settles exactly once, with either a response or an error. Settlement
// happens after the error or response hooks have run and the call's
// resources have been released.
//
// Example:
//
//	call := client.Go(ctx, httpclient.RequestOptions{URL: "/slow"})
//	select {
//	case <-call.Done():
//	case <-userGaveUp:
//	    call.Cancel()
//	}
//	resp, err := call.Wait()
type Call struct {
	ex   *execution
	done chan struct{}
	resp *Response
	err  error
}

func newCall(ex *execution) *Call {
	return &Call{ex: ex, done: make(chan struct{})}
}

// failedCall returns a call already settled with err. It is used for
// configuration errors detected before an execution exists.
func failedCall(err error) *Call {
	c := &Call{done: make(chan struct{}), err: err}
	close(c.done)
	return c
}

// settle records the outcome and wakes every waiter. It must be called once.
func (c *Call) settle(resp *Response, err error) {
	c.resp, c.err = resp, err
	close(c.done)
}

// ID returns the execution ID of the call, shared by every attempt and
// logged with each of them. It is empty for calls rejected before starting.
func (c *Call) ID() string {
	if c.ex == nil {
		return ""
	}
	return c.ex.id
}

// Cancel aborts the call. It settles with a cancellation error unless it has
// already settled, or another abort reason came first. Calling it more than
// once is harmless.
func (c *Call) Cancel() {
	if c.ex == nil {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	c.ex.abort(newCanceledError(c.ex, nil))
}

// Done is closed when the call settles.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call settles and returns its outcome.
func (c *Call) Wait() (*Response, error) {
	<-c.done
	return c.resp, c.err
}

// Err returns the error of a settled call, or nil while it is still running.
func (c *Call) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}
