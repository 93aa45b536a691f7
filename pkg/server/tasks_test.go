package server

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/awest/flightwatch/pkg/backup"
	"github.com/awest/flightwatch/pkg/server/monitor"
	"github.com/awest/flightwatch/pkg/storage/memory"
)

type failingBackupStore struct{ *memory.Store }

func (failingBackupStore) Backup(context.Context, io.Writer) (int64, error) {
	return 0, errors.New("disk full")
}

// A failed startup backup parks its goroutine in a retry wait; closing the
// stop channel must release it, and the WaitGroup must not report done
// while it is still parked.
func TestRunBackupScheduler_StopReleasesStartupBackup(t *testing.T) {
	mgr, err := backup.New(failingBackupStore{memory.New()}, backup.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	mon := monitor.NewSweepMonitor("backup", time.Hour)

	stop := make(chan bool)
	var wg sync.WaitGroup
	wg.Add(1)
	go RunBackupScheduler(mgr, mon, stop, &wg)

	// Let the startup attempt fail and enter its backoff wait.
	require.Eventually(t, func() bool {
		return mon.Status().ConsecutiveErrors > 0
	}, 2*time.Second, 10*time.Millisecond)

	close(stop)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler goroutines still running after stop")
	}
}
