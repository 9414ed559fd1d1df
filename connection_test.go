package blockctl

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperture-controls/blockctl/ctrl"
	"github.com/aperture-controls/blockctl/internal/testserver"
)

func TestDialControl(t *testing.T) {
	conn, cfg := dialTestControl(t, testserver.Script{}.Handle)

	assert.Equal(t, cfg.ControlAddr(), conn.Addr())
	assert.False(t, conn.IsClosed())
}

func TestDialControlRefused(t *testing.T) {
	cfg := DefaultConfig("127.0.0.1")
	cfg.ControlPort = reservedClosedPort(t)
	cfg.ConnectTimeout = time.Second

	_, err := DialControl(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, ShouldCloseConnection(err))
}

func TestExchangeQuery(t *testing.T) {
	conn, _ := dialTestControl(t, testserver.Script{
		"PCAP.ACTIVE?": {"OK =1"},
	}.Handle)

	resp, err := conn.Exchange(context.Background(), ctrl.Query("PCAP.ACTIVE"))
	require.NoError(t, err)
	assert.Equal(t, ctrl.KindValue, resp.Kind)
	assert.Equal(t, "1", resp.Value)
}

func TestExchangeMulti(t *testing.T) {
	conn, _ := dialTestControl(t, testserver.Script{
		"*BLOCKS?": {"!TTLIN 6", "!PCAP 1", "."},
	}.Handle)

	resp, err := conn.Exchange(context.Background(), ctrl.Query("*BLOCKS"))
	require.NoError(t, err)
	assert.Equal(t, ctrl.KindMulti, resp.Kind)
	assert.Equal(t, []string{"TTLIN 6", "PCAP 1"}, resp.Lines)
}

func TestExchangeAssign(t *testing.T) {
	conn, _ := dialTestControl(t, testserver.Script{
		"PULSE1.DELAY=100": {"OK"},
	}.Handle)

	resp, err := conn.Exchange(context.Background(), ctrl.Assign("PULSE1.DELAY", "100"))
	require.NoError(t, err)
	assert.Equal(t, ctrl.KindOK, resp.Kind)
}

func TestExchangeTableWrite(t *testing.T) {
	received := make(chan []string, 1)
	conn, _ := dialTestControl(t, func(command []string) []string {
		received <- command
		return []string{"OK"}
	})

	req := ctrl.AssignTable("SEQ1.TABLE", ctrl.TableOverwrite, []string{"1", "2"})
	resp, err := conn.Exchange(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ctrl.KindOK, resp.Kind)
	assert.Equal(t, []string{"SEQ1.TABLE<", "1", "2", ""}, <-received)
}

func TestExchangeControllerErrKeepsConnection(t *testing.T) {
	conn, _ := dialTestControl(t, testserver.Script{
		"PCAP.ACTIVE?": {"OK =1"},
	}.Handle)

	// Unknown target: the server says ERR, but the exchange itself
	// completed and the connection must stay usable
	resp, err := conn.Exchange(context.Background(), ctrl.Query("NOPE.NOPE"))
	require.NoError(t, err)
	assert.True(t, resp.IsErr())
	assert.False(t, conn.IsClosed())

	resp, err = conn.Exchange(context.Background(), ctrl.Query("PCAP.ACTIVE"))
	require.NoError(t, err)
	assert.Equal(t, "1", resp.Value)
}

func TestExchangeConcurrentFIFO(t *testing.T) {
	// Responses carry no request identifier; attribution is purely by
	// order. Concurrent callers must each get the response to their own
	// request.
	conn, _ := dialTestControl(t, func(command []string) []string {
		target := strings.TrimSuffix(command[0], "?")
		return []string{"OK =value-of-" + target}
	})

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			target := "COUNTER" + string(rune('A'+i)) + ".OUT"
			for n := 0; n < 10; n++ {
				resp, err := conn.Exchange(context.Background(), ctrl.Query(target))
				if err != nil {
					errs[i] = err
					return
				}
				if resp.Value != "value-of-"+target {
					errs[i] = errors.New("got response for wrong request: " + resp.Value)
					return
				}
			}
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "worker %d", i)
	}
}

func TestExchangeAfterClose(t *testing.T) {
	conn, _ := dialTestControl(t, testserver.Script{}.Handle)
	require.NoError(t, conn.Close())
	assert.True(t, conn.IsClosed())

	_, err := conn.Exchange(context.Background(), ctrl.Query("PCAP.ACTIVE"))
	assert.ErrorIs(t, err, ErrConnectionClosed)

	// Closing twice is harmless
	assert.NoError(t, conn.Close())
}

func TestExchangeAfterCloseFailsImmediately(t *testing.T) {
	// The submission select races the queue send against the closed quit
	// channel; when the send wins the worker is already gone and the
	// exchange must still fail immediately instead of blocking until the
	// context expires. Loop to hit both select outcomes.
	cfg := startController(t, testserver.Script{}.Handle)

	for n := 0; n < 200; n++ {
		conn, err := DialControl(context.Background(), cfg)
		require.NoError(t, err)
		require.NoError(t, conn.Close())

		done := make(chan error, 1)
		go func() {
			_, err := conn.Exchange(context.Background(), ctrl.Query("PCAP.ACTIVE"))
			done <- err
		}()

		select {
		case err := <-done:
			require.ErrorIs(t, err, ErrConnectionClosed)
		case <-time.After(time.Second):
			t.Fatal("Exchange on a closed connection blocked")
		}
	}
}

func TestCloseUnblocksExchange(t *testing.T) {
	// Server never answers; a blocked Exchange must fail promptly on
	// Close instead of hanging
	conn, _ := dialTestControl(t, func([]string) []string { return nil })

	result := make(chan error, 1)
	go func() {
		_, err := conn.Exchange(context.Background(), ctrl.Query("PCAP.ACTIVE"))
		result <- err
	}()

	time.Sleep(50 * time.Millisecond)
	conn.Close()

	select {
	case err := <-result:
		require.Error(t, err)
		assert.True(t, ShouldCloseConnection(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Exchange did not unblock on Close")
	}
}

func TestExchangeTimeout(t *testing.T) {
	cfg := startController(t, func([]string) []string { return nil })
	cfg.ExchangeTimeout = 100 * time.Millisecond

	conn, err := DialControl(context.Background(), cfg)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exchange(context.Background(), ctrl.Query("PCAP.ACTIVE"))
	require.Error(t, err)

	var terr *TimeoutError
	require.True(t, errors.As(err, &terr))

	// A response may still arrive for the abandoned request, so the
	// connection is torn down
	require.Eventually(t, conn.IsClosed, time.Second, 10*time.Millisecond)
}

func TestExchangeContextCancel(t *testing.T) {
	conn, _ := dialTestControl(t, func([]string) []string { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := conn.Exchange(ctx, ctrl.Query("PCAP.ACTIVE"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.Eventually(t, conn.IsClosed, time.Second, 10*time.Millisecond)
}

func TestExchangeProtocolErrorTearsDown(t *testing.T) {
	conn, _ := dialTestControl(t, func([]string) []string {
		return []string{"GIBBERISH"}
	})

	_, err := conn.Exchange(context.Background(), ctrl.Query("PCAP.ACTIVE"))
	require.Error(t, err)

	var perr *ctrl.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "PCAP.ACTIVE?", perr.Command)
	require.Eventually(t, conn.IsClosed, time.Second, 10*time.Millisecond)
}

// reservedClosedPort returns a loopback port that was just released, so
// connecting to it is refused.
func reservedClosedPort(t testing.TB) int {
	t.Helper()
	srv, err := testserver.NewController(nil)
	require.NoError(t, err)
	port := srv.Port()
	srv.Close()
	return port
}
