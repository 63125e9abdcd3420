// Package funcopt defines the functional option interface other
// packages of this module use in their constructors.
package funcopt

type (
	// O is the interface implemented by all functional options.
	O interface {
		Apply(t interface{}) error
	}

	// F wraps a function into a functional option.
	F func(t interface{}) error
)

func (f F) Apply(t interface{}) error {
	return f(t)
}

// Apply loops over the options and applies them to t, stopping
// at the first option returning an error.
func Apply(t interface{}, opts ...O) error {
	for _, opt := range opts {
		if err := opt.Apply(t); err != nil {
			return err
		}
	}
	return nil
}
