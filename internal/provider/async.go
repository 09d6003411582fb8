package provider

// Result carries the outcome of an asynchronous provider operation.
type Result[T any] struct {
	Value T
	Err   error
}

// Go runs fn on its own goroutine and delivers its outcome on the returned
// channel, which receives exactly one value and is then closed.
func Go[T any](fn func() (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		v, err := fn()
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}
