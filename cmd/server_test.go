package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"skabillium/memoq/cmd/resp"
)

var ctx = context.Background()

func startServer(t *testing.T, configure ...func(*ServerOptions)) *Server {
	t.Helper()

	options := &ServerOptions{}
	require.NoError(t, Unmarshal(options, Defaults()))
	options.Host = "127.0.0.1"
	options.Port = "0"
	options.AdminAddr = ""
	for _, c := range configure {
		c(options)
	}
	require.NoError(t, options.Validate())

	s := NewServer(options, log.NewNopLogger())
	srvCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Start(srvCtx)
	}()

	select {
	case <-s.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("server did not start: %v", err)
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not shut down")
		}
	})
	return s
}

func GetClient(t *testing.T, s *Server, password string) *redis.Client {
	t.Helper()
	memo := redis.NewClient(&redis.Options{
		Addr:     s.Addr().String(),
		Password: password,
	})
	t.Cleanup(func() { memo.Close() })
	return memo
}

func dial(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn, bufio.NewReader(conn)
}

func TestServerPing(t *testing.T) {
	s := startServer(t)
	memo := GetClient(t, s, "")

	pong, err := memo.Ping(ctx).Result()
	require.NoError(t, err)
	assert.Equal(t, "PONG", pong)

	echo, err := memo.Echo(ctx, "hello there!").Result()
	require.NoError(t, err)
	assert.Equal(t, "hello there!", echo)
}

func TestServerSortScenario(t *testing.T) {
	s := startServer(t)
	memo := GetClient(t, s, "")

	n, err := memo.RPush(ctx, "fruits", "banana", "apple", "cherry").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, memo.Do(ctx, "qsort", "fruits").Err())

	values, err := memo.LRange(ctx, "fruits", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"apple", "banana", "cherry"}, values)

	size, err := memo.LLen(ctx, "fruits").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
}

func TestServerReverseScenario(t *testing.T) {
	s := startServer(t)
	memo := GetClient(t, s, "")

	require.NoError(t, memo.LPush(ctx, "q", "a").Err())
	require.NoError(t, memo.LPush(ctx, "q", "b").Err())
	require.NoError(t, memo.Do(ctx, "qreverse", "q").Err())

	v, err := memo.LPop(ctx, "q").Result()
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	v, err = memo.LPop(ctx, "q").Result()
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	err = memo.LPop(ctx, "q").Err()
	assert.Equal(t, redis.Nil, err)

	size, err := memo.LLen(ctx, "q").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestServerQueueAliases(t *testing.T) {
	s := startServer(t)
	memo := GetClient(t, s, "")

	n, err := memo.Do(ctx, "qadd", "jobs", "1", "2", "3").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	v, err := memo.Do(ctx, "qpop", "jobs").Text()
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	n, err = memo.Do(ctx, "qlen", "jobs").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	values, err := memo.Do(ctx, "qshow", "jobs").StringSlice()
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, values)
}

func TestServerOrderingOnMissingKey(t *testing.T) {
	s := startServer(t)
	memo := GetClient(t, s, "")

	assert.NoError(t, memo.Do(ctx, "qsort", "nothing").Err())
	assert.NoError(t, memo.Do(ctx, "qreverse", "nothing").Err())
	assert.Equal(t, redis.Nil, memo.LPop(ctx, "nothing").Err())
}

func TestServerPopTruncates(t *testing.T) {
	s := startServer(t, func(o *ServerOptions) {
		o.PopBufferSize = 8
	})
	memo := GetClient(t, s, "")

	require.NoError(t, memo.RPush(ctx, "q", "a very long value", "short").Err())

	v, err := memo.LPop(ctx, "q").Result()
	require.NoError(t, err)
	assert.Equal(t, "a very ", v)

	v, err = memo.LPop(ctx, "q").Result()
	require.NoError(t, err)
	assert.Equal(t, "short", v)
}

func TestServerKeyspace(t *testing.T) {
	s := startServer(t)
	memo := GetClient(t, s, "")

	require.NoError(t, memo.Set(ctx, "name", "bill", 0).Err())
	require.NoError(t, memo.RPush(ctx, "queue", "x").Err())

	name, err := memo.Get(ctx, "name").Result()
	require.NoError(t, err)
	assert.Equal(t, "bill", name)
	assert.Equal(t, redis.Nil, memo.Get(ctx, "missing").Err())

	keys, err := memo.Keys(ctx, "*").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "queue"}, keys)

	kind, err := memo.Type(ctx, "queue").Result()
	require.NoError(t, err)
	assert.Equal(t, "list", kind)

	size, err := memo.DBSize(ctx).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	err = memo.LPush(ctx, "name", "x").Err()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "WRONGTYPE"), err.Error())

	n, err := memo.Exists(ctx, "name", "queue", "missing").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = memo.Del(ctx, "name", "missing").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, memo.FlushAll(ctx).Err())
	size, err = memo.DBSize(ctx).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestServerMaxMemory(t *testing.T) {
	s := startServer(t, func(o *ServerOptions) {
		o.MaxMemory = datasize.KB
	})
	memo := GetClient(t, s, "")

	err := memo.RPush(ctx, "q", strings.Repeat("x", 2048)).Err()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "OOM"), err.Error())

	require.NoError(t, memo.RPush(ctx, "q", "small").Err())
	info, err := memo.Info(ctx).Result()
	require.NoError(t, err)
	assert.Contains(t, info, "maxmemory:1024")
	assert.Contains(t, info, "allocation_failures:1")
}

func TestServerAllocFailures(t *testing.T) {
	s := startServer(t, func(o *ServerOptions) {
		o.Debug.AllocFailPercent = 100
	})
	memo := GetClient(t, s, "")

	err := memo.RPush(ctx, "q", "v").Err()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "OOM"), err.Error())

	n, err := memo.Exists(ctx, "q").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestServerAuth(t *testing.T) {
	s := startServer(t, func(o *ServerOptions) {
		o.Auth.Password = "secret"
	})

	anonymous := GetClient(t, s, "")
	err := anonymous.RPush(ctx, "q", "v").Err()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "NOAUTH"), err.Error())

	wrong := GetClient(t, s, "nope")
	assert.Error(t, wrong.Ping(ctx).Err())

	memo := GetClient(t, s, "secret")
	pong, err := memo.Ping(ctx).Result()
	require.NoError(t, err)
	assert.Equal(t, "PONG", pong)
}

func TestServerInlineCommands(t *testing.T) {
	s := startServer(t)
	conn, r := dial(t, s)

	_, err := conn.Write([]byte("rpush q b 'a value'\r\n"))
	require.NoError(t, err)
	v, err := resp.Read(r)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = conn.Write([]byte("qsort q\r\nqshow q\r\n"))
	require.NoError(t, err)
	v, err = resp.Read(r)
	require.NoError(t, err)
	assert.Equal(t, "OK", v)
	v, err = resp.Read(r)
	require.NoError(t, err)
	assert.Equal(t, []any{"a value", "b"}, v)

	_, err = conn.Write([]byte("bogus\r\n"))
	require.NoError(t, err)
	v, err = resp.Read(r)
	require.NoError(t, err)
	assert.EqualError(t, v.(error), "ERR unknown command 'bogus'")
}

func TestServerPipelining(t *testing.T) {
	s := startServer(t)
	conn, r := dial(t, s)

	var sb strings.Builder
	for i := 0; i < 10; i++ {
		sb.WriteString(resp.SerializeCommand("rpush", "q", fmt.Sprint(i)))
	}
	sb.WriteString(resp.SerializeCommand("quit"))
	_, err := io.WriteString(conn, sb.String())
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		v, err := resp.Read(r)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	v, err := resp.Read(r)
	require.NoError(t, err)
	assert.Equal(t, "OK", v)

	_, err = resp.Read(r)
	assert.Equal(t, io.EOF, err, "quit closes the connection")
}

func TestServerProtocolError(t *testing.T) {
	s := startServer(t)
	conn, r := dial(t, s)

	_, err := conn.Write([]byte("*x\r\n"))
	require.NoError(t, err)

	v, err := resp.Read(r)
	require.NoError(t, err)
	require.Implements(t, (*error)(nil), v)
	assert.Contains(t, v.(error).Error(), "Protocol error")

	_, err = resp.Read(r)
	assert.Equal(t, io.EOF, err)
}

func TestServerConcurrentClients(t *testing.T) {
	s := startServer(t)
	memo := GetClient(t, s, "")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if err := memo.RPush(ctx, "shared", fmt.Sprintf("%d-%d", w, i)).Err(); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	n, err := memo.LLen(ctx, "shared").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(800), n)

	require.NoError(t, memo.Do(ctx, "qsort", "shared").Err())
	values, err := memo.LRange(ctx, "shared", 0, -1).Result()
	require.NoError(t, err)
	for i := 1; i < len(values); i++ {
		require.LessOrEqual(t, values[i-1], values[i])
	}
}

func TestServerMetrics(t *testing.T) {
	s := startServer(t)
	memo := GetClient(t, s, "")

	require.NoError(t, memo.RPush(ctx, "q", "a", "b").Err())
	require.NoError(t, memo.Do(ctx, "qadd", "q", "c").Err())
	require.Error(t, memo.Do(ctx, "lrange", "q", "zero", "1").Err())

	assert.Equal(t, float64(2), testutil.ToFloat64(s.metrics.commands.WithLabelValues("rpush")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(s.metrics.commandErrors.WithLabelValues("unknown")), float64(1))
}

func TestServerAdmin(t *testing.T) {
	s := startServer(t, func(o *ServerOptions) {
		o.AdminAddr = "127.0.0.1:0"
	})
	memo := GetClient(t, s, "")
	require.NoError(t, memo.RPush(ctx, "fruits", "banana", "apple").Err())
	require.NoError(t, memo.Set(ctx, "name", "bill", 0).Err())

	httpClient := &http.Client{Timeout: 5 * time.Second}
	base := "http://" + s.AdminAddr().String()

	res, err := httpClient.Get(base + "/debug/queues/fruits")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var q QueueResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&q))
	assert.Equal(t, QueueResponse{Key: "fruits", Length: 2, Values: []string{"banana", "apple"}}, q)

	for path, status := range map[string]int{
		"/debug/queues/missing": http.StatusNotFound,
		"/debug/queues/name":    http.StatusConflict,
		"/healthz":              http.StatusOK,
	} {
		res, err := httpClient.Get(base + path)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, status, res.StatusCode, path)
	}

	res, err = httpClient.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `memoq_commands_total{command="rpush"} 1`)
	assert.Contains(t, string(body), "memoq_keys 2")
	httpClient.CloseIdleConnections()
}

func TestServerShutdownClosesConnections(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	options := &ServerOptions{}
	require.NoError(t, Unmarshal(options, Defaults()))
	options.Host, options.Port, options.AdminAddr = "127.0.0.1", "0", "127.0.0.1:0"

	s := NewServer(options, log.NewNopLogger())
	srvCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Start(srvCtx)
	}()
	<-s.Ready()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(resp.SerializeCommand("rpush", "q", "v")))
	require.NoError(t, err)
	r := bufio.NewReader(conn)
	v, err := resp.Read(r)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = resp.Read(r)
	assert.Error(t, err, "connection is closed by the server")
	assert.Equal(t, int64(0), s.budget.Used(), "queues are freed on shutdown")
}
