//go:build linux

package proc

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exited reports whether pid is gone or only a zombie awaiting its reaper.
func exited(pid int) bool {
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return true
	}
	i := bytes.LastIndexByte(stat, ')')
	return i < 0 || i+2 >= len(stat) || stat[i+2] == 'Z'
}

func TestLaunchTimeoutKillsProcessGroup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	_, err := LocalLauncher{}.Launch(ctx, Command{
		Argv: []string{"/bin/sh", "-c", "sleep 30 & echo $$ $!; sleep 30; wait"},
	}, &out)
	require.ErrorIs(t, err, ErrInterrupted)

	fields := strings.Fields(out.String())
	require.Len(t, fields, 2, "output: %q", out.String())
	leader, err := strconv.Atoi(fields[0])
	require.NoError(t, err)
	background, err := strconv.Atoi(fields[1])
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		if err := syscall.Kill(-leader, 0); errors.Is(err, syscall.ESRCH) {
			return true
		}
		// Orphans may linger as zombies until init reaps them.
		return exited(leader) && exited(background)
	}, 3*time.Second, 20*time.Millisecond)
}
