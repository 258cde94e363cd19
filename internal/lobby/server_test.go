package lobby

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/mathblast/internal/config"
	"github.com/cory-johannsen/mathblast/internal/testutil"
)

const readTimeout = 2 * time.Second

func testLobbyConfig() config.LobbyConfig {
	cfg := config.Default().Lobby
	cfg.Port = 0
	cfg.BindRetryDelay = 10 * time.Millisecond
	cfg.WriteTimeout = 2 * time.Second
	return cfg
}

func startServer(t *testing.T, cfg config.LobbyConfig) *Server {
	t.Helper()
	srv := NewServer(cfg, zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	deadline := time.After(2 * time.Second)
	for srv.Addr() == "" {
		select {
		case err := <-errCh:
			t.Fatalf("server exited early: %v", err)
		case <-deadline:
			t.Fatal("server did not start in time")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	t.Cleanup(func() {
		srv.Stop()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop in time")
		}
	})
	return srv
}

// joinAs connects a client and waits until its own JOIN and the following
// LIST have been observed.
func joinAs(t *testing.T, srv *Server, name string) *testutil.LineClient {
	t.Helper()
	c := testutil.NewLineClient(t, srv.Addr())
	c.Send("JOIN:" + name)
	c.ReadUntil("JOIN:"+name, readTimeout)
	c.ReadUntilPrefix("LIST:", readTimeout)
	return c
}

// registered connects an unnamed client and waits until the server has registered it.
func registered(t *testing.T, srv *Server) *testutil.LineClient {
	t.Helper()
	c := testutil.NewLineClient(t, srv.Addr())
	c.Send("LIST?")
	c.ReadUntilPrefix("LIST:", readTimeout)
	return c
}

func TestJoinBroadcastsJoinThenList(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	c := testutil.NewLineClient(t, srv.Addr())

	c.Send("JOIN:Alice")
	assert.Equal(t, "JOIN:Alice", c.ReadLine(readTimeout))
	assert.Equal(t, "LIST:Alice,1,0", c.ReadLine(readTimeout))
}

func TestJoinReachesEveryConnection(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")
	lurker := registered(t, srv)

	bob := testutil.NewLineClient(t, srv.Addr())
	bob.Send("JOIN:Bob")

	for _, c := range []*testutil.LineClient{alice, lurker, bob} {
		assert.Equal(t, "JOIN:Bob", c.ReadLine(readTimeout))
		assert.Equal(t, "LIST:Alice,1,0;Bob,1,0", c.ReadLine(readTimeout))
	}
}

func TestAllReadyBroadcastsStart(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")
	bob := joinAs(t, srv, "Bob")
	alice.ReadUntil("LIST:Alice,1,0;Bob,1,0", readTimeout)

	alice.Send("READY:Alice:1")
	assert.Equal(t, "READY:Alice:1", bob.ReadLine(readTimeout))
	assert.Equal(t, "LIST:Alice,1,1;Bob,1,0", bob.ReadLine(readTimeout))

	bob.Send("READY:Bob:1")
	assert.Equal(t, []string{"READY:Bob:1", "LIST:Alice,1,1;Bob,1,1", "START:"},
		bob.ReadUntil("START:", readTimeout))
	alice.ReadUntil("START:", readTimeout)
}

func TestStartRepeatsOnEveryReadyWhileBarrierHolds(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")

	alice.Send("READY:Alice:1")
	alice.ReadUntil("START:", readTimeout)

	alice.Send("READY:Alice:1")
	assert.Equal(t, []string{"READY:Alice:1", "LIST:Alice,1,1", "START:"},
		alice.ReadUntil("START:", readTimeout))
}

func TestUnreadyDoesNotStart(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")

	alice.Send("READY:Alice:0")
	assert.Equal(t, "READY:Alice:0", alice.ReadLine(readTimeout))
	assert.Equal(t, "LIST:Alice,1,0", alice.ReadLine(readTimeout))
	alice.ExpectSilence(150 * time.Millisecond)
}

func TestReadyBeforeJoinIsDropped(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	c := registered(t, srv)

	c.Send("READY:Ghost:1")
	c.ExpectSilence(150 * time.Millisecond)
}

func TestUnknownLinePassesThrough(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")
	bob := joinAs(t, srv, "Bob")
	alice.ReadUntilPrefix("LIST:", readTimeout)

	bob.Send("FOO:bar")
	assert.Equal(t, "FOO:bar", alice.ReadLine(readTimeout))
	assert.Equal(t, "FOO:bar", bob.ReadLine(readTimeout))
}

func TestChatIsRelayedVerbatim(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")
	bob := joinAs(t, srv, "Bob")
	alice.ReadUntilPrefix("LIST:", readTimeout)

	alice.Send("CHAT:Alice:2+2=4: easy")
	assert.Equal(t, "CHAT:Alice:2+2=4: easy", bob.ReadLine(readTimeout))
	assert.Equal(t, "CHAT:Alice:2+2=4: easy", alice.ReadLine(readTimeout))
}

func TestChatOrderPreservedPerSender(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")
	bob := joinAs(t, srv, "Bob")
	alice.ReadUntilPrefix("LIST:", readTimeout)

	const n = 20
	for i := 0; i < n; i++ {
		alice.Send("CHAT:Alice:msg " + strconv.Itoa(i))
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, "CHAT:Alice:msg "+strconv.Itoa(i), bob.ReadLine(readTimeout))
	}
}

func TestMalformedAndInvalidUTF8AreDropped(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")

	alice.Send("CHAT:Alice")
	alice.Send("READY:Alice:maybe")
	alice.SendRaw([]byte("CHAT:Alice:\xff\xfe\n"))
	alice.Send("")
	alice.Send("CHAT:Alice:still here")

	assert.Equal(t, "CHAT:Alice:still here", alice.ReadLine(readTimeout))
}

func TestCRLFLinesAccepted(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	c := testutil.NewLineClient(t, srv.Addr())

	c.SendRaw([]byte("JOIN:Dana\r\n"))
	assert.Equal(t, "JOIN:Dana", c.ReadLine(readTimeout))
	assert.Equal(t, "LIST:Dana,1,0", c.ReadLine(readTimeout))
}

func TestLevelUpdatesSnapshot(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")

	alice.Send("LEVEL:Alice:5")
	assert.Equal(t, "LIST:Alice,5,0", alice.ReadLine(readTimeout))

	alice.Send("LEVEL:Alice:nope")
	assert.Equal(t, "LIST:Alice,1,0", alice.ReadLine(readTimeout))
}

func TestListQueryRepliesToRequesterOnly(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")
	bob := joinAs(t, srv, "Bob")
	alice.ReadUntilPrefix("LIST:", readTimeout)

	bob.Send("LIST?")
	assert.Equal(t, "LIST:Alice,1,0;Bob,1,0", bob.ReadLine(readTimeout))
	alice.ExpectSilence(150 * time.Millisecond)
}

func TestStartQuery(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")
	bob := joinAs(t, srv, "Bob")
	alice.ReadUntilPrefix("LIST:", readTimeout)

	bob.Send("START?")
	bob.ExpectSilence(150 * time.Millisecond)

	alice.Send("READY:Alice:1")
	bob.Send("READY:Bob:1")
	alice.ReadUntil("START:", readTimeout)
	bob.ReadUntil("START:", readTimeout)

	alice.Send("START?")
	assert.Equal(t, "START:", alice.ReadLine(readTimeout))
	bob.ExpectSilence(150 * time.Millisecond)
}

func TestDisconnectBroadcastsLeaveThenList(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")
	carol := joinAs(t, srv, "Carol")
	alice.ReadUntil("LIST:Alice,1,0;Carol,1,0", readTimeout)

	carol.Close()

	assert.Equal(t, "LEAVE:Carol", alice.ReadLine(readTimeout))
	assert.Equal(t, "LIST:Alice,1,0", alice.ReadLine(readTimeout))
	alice.ExpectSilence(150 * time.Millisecond)
	assert.Equal(t, "Alice", srv.Snapshot()[0].Name)
	assert.Len(t, srv.Snapshot(), 1)
}

func TestUnnamedDisconnectIsSilent(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")
	lurker := registered(t, srv)

	lurker.Close()
	alice.ExpectSilence(150 * time.Millisecond)
}

func TestBindRetriesNextPort(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	busyPort := occupied.Addr().(*net.TCPAddr).Port

	cfg := testLobbyConfig()
	cfg.Port = busyPort
	srv := startServer(t, cfg)

	_, portStr, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	assert.Greater(t, port, busyPort)
}

func TestBindGivesUpAfterAttempts(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	cfg := testLobbyConfig()
	cfg.Port = occupied.Addr().(*net.TCPAddr).Port
	cfg.BindAttempts = 1

	srv := NewServer(cfg, zaptest.NewLogger(t))
	err = srv.ListenAndServe()
	require.Error(t, err)
	assert.ErrorIs(t, err, syscall.EADDRINUSE)
	assert.False(t, srv.IsRunning())
}

func TestStopClosesConnections(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")

	srv.Stop()
	assert.False(t, srv.IsRunning())
	alice.ExpectClosed(readTimeout)

	conn, err := net.DialTimeout("tcp", srv.Addr(), 200*time.Millisecond)
	if err == nil {
		conn.Close()
		t.Fatal("server still accepting after Stop")
	}
}

func TestListRepliesNeverOvertakeNewerBroadcasts(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")

	const queries = 50
	var burst strings.Builder
	for i := 0; i < queries; i++ {
		burst.WriteString("LIST?\n")
	}
	alice.SendRaw([]byte(burst.String()))
	joinAs(t, srv, "Carol")

	seenCarol := false
	lists := 0
	for lists < queries+1 {
		line := alice.ReadLine(readTimeout)
		if !strings.HasPrefix(line, "LIST:") {
			continue
		}
		lists++
		hasCarol := strings.Contains(line, "Carol,")
		if seenCarol {
			assert.True(t, hasCarol, "stale snapshot %q after Carol joined", line)
		}
		seenCarol = seenCarol || hasCarol
	}
	assert.True(t, seenCarol)
}

func TestStopWhileClientsConnect(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	addr := srv.Addr()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
				if err != nil {
					return
				}
				conn.Close()
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while clients were connecting")
	}
	wg.Wait()
	assert.False(t, srv.IsRunning())
}

func TestForceStart(t *testing.T) {
	srv := startServer(t, testLobbyConfig())
	alice := joinAs(t, srv, "Alice")

	srv.ForceStart()
	assert.Equal(t, "START:", alice.ReadLine(readTimeout))
}
