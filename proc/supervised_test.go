package proc

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestWait_NormalExit(t *testing.T) {
	sup, err := Start(exec.Command("true"))
	require.NoError(t, err)
	require.NoError(t, sup.Wait(5*time.Second))
}

func TestWait_NonzeroExit(t *testing.T) {
	sup, err := Start(exec.Command("false"))
	require.NoError(t, err)

	err = sup.Wait(5 * time.Second)
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 1, exitErr.ExitCode())
}

func TestWait_TimeoutKillsGroup(t *testing.T) {
	// The shell forks sleep; killing only the shell would leave the sleep
	// behind.
	sup, err := Start(exec.Command("sh", "-c", "sleep 60 & wait"))
	require.NoError(t, err)
	pid := sup.Pid()

	start := time.Now()
	err = sup.Wait(200 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), 200*time.Millisecond+graceAfterTerm+time.Second)

	// The whole group must be gone: signalling it should fail once the
	// children are reaped.
	require.Eventually(t, func() bool {
		return unix.Kill(-pid, unix.Signal(0)) != nil
	}, 5*time.Second, 50*time.Millisecond)
}
