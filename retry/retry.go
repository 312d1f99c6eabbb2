// Package retry provides a bounded retry loop for operations whose failures
// are only sometimes worth retrying.
package retry

// Do runs attempt up to attempts times. After each attempt that returns a
// nil error, transient decides whether the result warrants another try; a
// non-transient result ends the loop immediately. An attempt error also ends
// the loop and is returned as-is. The result of the last attempt is always
// returned, even when the attempt budget is exhausted on transient failures.
//
// Exhausted reports whether every attempt, including the last, was judged
// transient.
func Do[T any](attempts int, transient func(T) bool, attempt func(n int) (T, error)) (result T, exhausted bool, err error) {
	for n := 1; n <= attempts; n++ {
		result, err = attempt(n)
		if err != nil {
			return result, false, err
		}
		if !transient(result) {
			return result, false, nil
		}
	}
	return result, true, nil
}
