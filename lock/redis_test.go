package lock

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tuition-engine/fee"
)

// =============================================================================
// IN-PROCESS SERVER - speaks the RESP subset the locker uses
// =============================================================================

// respServer understands SET (NX/PX/EX), GET, EVALSHA (always NOSCRIPT) and
// EVAL of the release script. Anything else gets an error reply, which the
// client treats as "feature not supported" during its handshake.
type respServer struct {
	ln   net.Listener
	mu   sync.Mutex
	keys map[string]respEntry
}

type respEntry struct {
	value   string
	expires time.Time
}

func startRESPServer(t *testing.T) *respServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &respServer{ln: ln, keys: make(map[string]respEntry)}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *respServer) addr() string { return s.ln.Addr().String() }

func (s *respServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *respServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		args, err := readRESPCommand(r)
		if err != nil {
			return
		}
		w.WriteString(s.exec(args))
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func readRESPCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(header[1:]))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func (s *respServer) exec(args []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.ToUpper(args[0]) {
	case "PING":
		return "+PONG\r\n"
	case "SET":
		key, value := args[1], args[2]
		nx := false
		var ttl time.Duration
		for i := 3; i < len(args); i++ {
			switch strings.ToUpper(args[i]) {
			case "NX":
				nx = true
			case "PX":
				ms, _ := strconv.Atoi(args[i+1])
				ttl = time.Duration(ms) * time.Millisecond
				i++
			case "EX":
				sec, _ := strconv.Atoi(args[i+1])
				ttl = time.Duration(sec) * time.Second
				i++
			}
		}
		if _, ok := s.live(key); ok && nx {
			return "$-1\r\n"
		}
		entry := respEntry{value: value}
		if ttl > 0 {
			entry.expires = time.Now().Add(ttl)
		}
		s.keys[key] = entry
		return "+OK\r\n"
	case "GET":
		v, ok := s.live(args[1])
		if !ok {
			return "$-1\r\n"
		}
		return fmt.Sprintf("$%d\r\n%s\r\n", len(v), v)
	case "EVALSHA":
		return "-NOSCRIPT No matching script.\r\n"
	case "EVAL":
		// EVAL <release script> 1 <key> <token>
		key, token := args[3], args[4]
		if v, ok := s.live(key); ok && v == token {
			delete(s.keys, key)
			return ":1\r\n"
		}
		return ":0\r\n"
	}
	return "-ERR unknown command '" + args[0] + "'\r\n"
}

func (s *respServer) live(key string) (string, bool) {
	e, ok := s.keys[key]
	if !ok {
		return "", false
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(s.keys, key)
		return "", false
	}
	return e.value, true
}

func (s *respServer) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(key)
	return ok
}

func newTestLocker(t *testing.T, addr string, ttl time.Duration) *RedisLocker {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr, Protocol: 2})
	t.Cleanup(func() { client.Close() })
	l, err := NewRedisLocker(client, ttl, nil)
	require.NoError(t, err)
	l.pollInterval = 5 * time.Millisecond
	return l
}

// =============================================================================
// TESTS
// =============================================================================

func TestNewRedisLocker_Validation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	_, err := NewRedisLocker(nil, time.Second, nil)
	assert.Error(t, err)

	_, err = NewRedisLocker(client, 0, nil)
	assert.Error(t, err)

	l, err := NewRedisLocker(client, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "feeengine:subject-lock:", l.prefix)
}

func TestRedisLocker_WaitsThenTimesOut(t *testing.T) {
	// GIVEN: A held subject lock
	srv := startRESPServer(t)
	l := newTestLocker(t, srv.addr(), 5*time.Second)
	unlock, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, srv.has("feeengine:subject-lock:s1"))

	// WHEN: A second caller polls with a short deadline
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "s1")

	// THEN: It reports the lock as unavailable
	require.ErrorIs(t, err, fee.ErrLockUnavailable)

	// AND: Another subject is not blocked
	other, err := l.Lock(context.Background(), "s2")
	require.NoError(t, err)
	other()

	// AND: Releasing deletes the key so the next caller gets in
	unlock()
	unlock()
	assert.False(t, srv.has("feeengine:subject-lock:s1"))
	again, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_WaiterAcquiresAfterRelease(t *testing.T) {
	srv := startRESPServer(t)
	l := newTestLocker(t, srv.addr(), 5*time.Second)
	unlock, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		u, err := l.Lock(ctx, "s1")
		if err == nil {
			u()
		}
		acquired <- err
	}()

	time.Sleep(20 * time.Millisecond)
	unlock()

	require.NoError(t, <-acquired)
}

func TestRedisLocker_StaleReleaseKeepsNewHolder(t *testing.T) {
	// GIVEN: A holder whose key expired and a new holder that took over
	srv := startRESPServer(t)
	crashed := newTestLocker(t, srv.addr(), 30*time.Millisecond)
	stale, err := crashed.Lock(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	current, err := newTestLocker(t, srv.addr(), 5*time.Second).Lock(ctx, "s1")
	require.NoError(t, err)
	defer current()

	// WHEN: The stale holder releases
	stale()

	// THEN: The new holder's key survives (its token does not match)
	assert.True(t, srv.has("feeengine:subject-lock:s1"))
}

// Runs against a real server when REDIS_ADDR is set.
func TestRedisLocker_RealServer(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	l, err := NewRedisLocker(client, 5*time.Second, nil)
	require.NoError(t, err)
	l.prefix = "feeengine-test:" + time.Now().Format("150405.000") + ":"

	unlock, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "s1")
	require.ErrorIs(t, err, fee.ErrLockUnavailable)

	unlock()
	again, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)
	again()
}
