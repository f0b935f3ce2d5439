package realtime

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"pulse/cmd/internal/apps"

	"github.com/stretchr/testify/require"
)

func TestConnections_ConcurrentAdmissionsRespectQuota(t *testing.T) {
	t.Parallel()

	const quota = 5
	app := testApp(func(a *apps.App) { a.MaxConnections = quota })
	reg := NewConnections()

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := reg.admit(NewConn(fmt.Sprintf("%d.%d", i, i), app, 1))
			switch err {
			case nil:
				admitted.Add(1)
			case ErrQuotaExceeded:
				rejected.Add(1)
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, quota, admitted.Load())
	require.EqualValues(t, 64-quota, rejected.Load())
	require.Equal(t, quota, reg.Count(app.ID))
}

func TestConnections_ReleaseFreesSlot(t *testing.T) {
	t.Parallel()

	app := testApp(func(a *apps.App) { a.MaxConnections = 1 })
	reg := NewConnections()

	first := NewConn("1.1", app, 1)
	second := NewConn("2.2", app, 1)

	require.NoError(t, reg.admit(first))
	require.ErrorIs(t, reg.admit(second), ErrQuotaExceeded)

	require.True(t, reg.release(first))
	require.False(t, reg.release(first), "release must be idempotent")

	require.NoError(t, reg.admit(second))
	got, ok := reg.Lookup(app.ID, "2.2")
	require.True(t, ok)
	require.Same(t, second, got)
}

func TestConnections_ZeroQuotaIsUnlimited(t *testing.T) {
	t.Parallel()

	app := testApp()
	reg := NewConnections()
	for i := 0; i < 100; i++ {
		require.NoError(t, reg.admit(NewConn(fmt.Sprintf("%d.0", i), app, 1)))
	}
	require.Equal(t, 100, reg.Count(app.ID))
	require.Len(t, reg.All(), 100)
}

func TestConnections_QuotaIsPerApp(t *testing.T) {
	t.Parallel()

	a := testApp(func(a *apps.App) { a.MaxConnections = 1 })
	b := testApp(func(x *apps.App) { x.ID, x.Key, x.MaxConnections = "app-2", "key-2", 1 })
	reg := NewConnections()

	require.NoError(t, reg.admit(NewConn("1.1", a, 1)))
	require.NoError(t, reg.admit(NewConn("1.1", b, 1)))
	require.Equal(t, 1, reg.Count(a.ID))
	require.Equal(t, 1, reg.Count(b.ID))
	require.Equal(t, 0, reg.Count("unknown"))
}
