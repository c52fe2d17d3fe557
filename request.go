package promdb

// Request is one operation issued against a transaction. Requests run
// synchronously, so the result is settled by the time the Request is
// returned.
type Request struct {
	tx     *Tx
	op     string
	target string
	result *Future[any]
}

func (r *Request) Tx() *Tx { return r.tx }

// Op returns the request's name, e.g. GET or PUT.
func (r *Request) Op() string { return r.op }

func (r *Request) Result() *Future[any] { return r.result }

func (r *Request) Wait() (any, error) {
	return r.result.Wait()
}

// request runs fn as a request. Argument errors (invalid keys, read-only
// writes, inactive transactions) are returned without a Request and leave
// the transaction alone. Any other failure rejects the Request and aborts
// the transaction.
func (tx *Tx) request(op, target string, fn func() (any, error)) (*Request, error) {
	if err := tx.checkActive(op); err != nil {
		return nil, err
	}
	req := &Request{tx: tx, op: op, target: target, result: newFuture[any]()}
	v, err := fn()
	if err != nil {
		if isArgumentError(err) {
			return nil, err
		}
		req.result.reject(err)
		tx.abortWith(err)
		if tx.conn.verbose {
			tx.conn.logf("db: %s %s => ERROR %v", op, target, err)
		}
		return req, err
	}
	req.result.resolve(v)
	if tx.conn.verbose {
		tx.conn.logf("db: %s %s => %s", op, target, loggableResult(v))
	}
	return req, nil
}

func isArgumentError(err error) bool {
	switch CodeOf(err) {
	case CodeData, CodeReadOnly, CodeTransactionInactive, CodeInvalidState, CodeInvalidAccess, CodeNotFound:
		return true
	default:
		return false
	}
}
