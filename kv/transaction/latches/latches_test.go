package latches

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLatches(t *testing.T) {
	l := NewLatches()

	wg := l.AcquireLatches([][]byte{{}, {3}, {3, 0, 42}})
	assert.Nil(t, wg)

	// Can only acquire once.
	wg = l.AcquireLatches([][]byte{{}})
	assert.NotNil(t, wg)
	wg = l.AcquireLatches([][]byte{{3, 0, 42}})
	assert.NotNil(t, wg)

	// Release then acquire is ok.
	l.ReleaseLatches([][]byte{{3}, {3, 0, 43}})
	wg = l.AcquireLatches([][]byte{{3}})
	assert.Nil(t, wg)
	wg = l.AcquireLatches([][]byte{{3, 0, 42}})
	assert.NotNil(t, wg)
}

func TestDoSerializes(t *testing.T) {
	l := NewLatches()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do([][]byte{[]byte("counter"), []byte("other"), []byte("counter")}, func() error {
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, counter)
	assert.Equal(t, 0, l.Len())
}

func TestDoReturnsError(t *testing.T) {
	l := NewLatches()
	err := l.Do([][]byte{[]byte("k")}, func() error {
		assert.Equal(t, 1, l.Len())
		return assert.AnError
	})
	require.Equal(t, assert.AnError, err)
	assert.Equal(t, 0, l.Len())
}
