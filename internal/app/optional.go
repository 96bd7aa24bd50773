package app

// Optional distinguishes a field left out of an update from one explicitly
// set, including explicitly set to null.
type Optional[T any] struct {
	set   bool
	null  bool
	value T
}

// Unset leaves the field unchanged.
func Unset[T any]() Optional[T] { return Optional[T]{} }

// SetNull clears the field.
func SetNull[T any]() Optional[T] { return Optional[T]{set: true, null: true} }

// SetTo assigns v.
func SetTo[T any](v T) Optional[T] { return Optional[T]{set: true, value: v} }

func (o Optional[T]) IsSet() bool  { return o.set }
func (o Optional[T]) IsNull() bool { return o.set && o.null }

// Get returns the value and whether one was assigned. It reports false for
// both Unset and SetNull.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set && !o.null
}

// Ptr returns nil for SetNull and a pointer to the value otherwise.
func (o Optional[T]) Ptr() *T {
	if !o.set || o.null {
		return nil
	}
	v := o.value
	return &v
}
