package main

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunFailsWhenPortIsTaken(t *testing.T) {
	taken, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer taken.Close()

	port := strconv.Itoa(taken.Addr().(*net.TCPAddr).Port)
	t.Setenv("PORT", port)
	t.Setenv("SERVER_PORT", port)
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("SHUTDOWN_TIMEOUT", "2s")
	t.Setenv("LOG_LEVEL", "error")

	code := make(chan int, 1)
	go func() { code <- run() }()

	select {
	case got := <-code:
		require.Equal(t, 1, got)
	case <-time.After(5 * time.Second):
		t.Fatal("run kept waiting after the listener failed")
	}
}
