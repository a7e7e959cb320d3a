package fn

// FuncList is a list of callbacks taking the same argument.
type FuncList[T any] []func(T)

// Add appends f; nil is ignored.
func (c *FuncList[T]) Add(f func(T)) {
	if f == nil {
		return
	}
	*c = append(*c, f)
}

// Execute calls the functions in the order they were added.
func (c FuncList[T]) Execute(v T) {
	for _, f := range c {
		f(v)
	}
}

// ExecuteReverse calls the functions in reverse order they were added.
func (c FuncList[T]) ExecuteReverse(v T) {
	for i := range c {
		c[len(c)-1-i](v)
	}
}
