package fn_test

import (
	"testing"

	"github.com/plgd-dev/go-coap-engine/pkg/fn"
	"github.com/stretchr/testify/require"
)

func TestFuncList(t *testing.T) {
	var fns fn.FuncList[*[]int]
	fns.Add(func(v *[]int) { *v = append(*v, 1) })
	fns.Add(nil)
	fns.Add(func(v *[]int) { *v = append(*v, 2) })
	require.Len(t, fns, 2)

	var order []int
	fns.Execute(&order)
	require.Equal(t, []int{1, 2}, order)

	order = nil
	fns.ExecuteReverse(&order)
	require.Equal(t, []int{2, 1}, order)
}
