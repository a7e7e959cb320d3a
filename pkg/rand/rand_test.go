package rand_test

import (
	"sync"
	"testing"

	"github.com/plgd-dev/go-coap-engine/pkg/rand"
	"github.com/stretchr/testify/require"
)

func TestBetween(t *testing.T) {
	r := rand.NewRand(0)
	for i := 0; i < 1000; i++ {
		v := r.Between(1, 1.5)
		require.GreaterOrEqual(t, v, 1.0)
		require.Less(t, v, 1.5)
	}
	require.Equal(t, 2.0, r.Between(2, 2))
}

func TestMultiThreadedRand(*testing.T) {
	r := rand.NewRand(0)
	var done sync.WaitGroup
	for i := 0; i < 100; i++ {
		done.Add(1)
		go func(index int) {
			defer done.Done()
			switch index % 3 {
			case 0:
				_ = r.Int63()
			case 1:
				_ = r.Uint32()
			default:
				_ = r.Float64()
			}
		}(i)
	}
	done.Wait()
}
