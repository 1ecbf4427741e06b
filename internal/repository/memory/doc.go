// Package memory provides in-memory implementations of the CRM
// repositories. They back the service tests and local development runs
// without a database. Each store can be told to fail a named operation so
// error paths can be exercised.
package memory

import "sync"

// faults holds injected errors keyed by operation name.
type faults struct {
	mu   sync.Mutex
	errs map[string]error
}

// FailOn makes every later call of op return err. A nil err clears it.
func (f *faults) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = map[string]error{}
	}
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

func (f *faults) fault(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[op]
}
