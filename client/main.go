package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var ctx = context.Background()

func GetClient(addr, password string, timeout time.Duration) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DialTimeout: timeout,
		ReadTimeout: timeout,
	})
}

// printReply writes a reply the way redis-cli does: one array element per
// line, nested arrays indented under their index.
func printReply(w io.Writer, reply any) {
	io.WriteString(w, formatReply(reply, ""))
}

func formatReply(reply any, indent string) string {
	switch v := reply.(type) {
	case nil:
		return "(nil)\n"
	case []any:
		if len(v) == 0 {
			return "(empty array)\n"
		}
		var sb strings.Builder
		width := len(strconv.Itoa(len(v)))
		for i, e := range v {
			prefix := fmt.Sprintf("%*d) ", width, i+1)
			if i > 0 {
				sb.WriteString(indent)
			}
			sb.WriteString(prefix)
			sb.WriteString(formatReply(e, indent+strings.Repeat(" ", len(prefix))))
		}
		return sb.String()
	case int64:
		return fmt.Sprintf("(integer) %d\n", v)
	case string:
		return fmt.Sprintf("%q\n", v)
	default:
		return fmt.Sprintln(v)
	}
}

func run(memo *redis.Client, args []string, w io.Writer) error {
	cmdArgs := make([]any, len(args))
	for i, a := range args {
		cmdArgs[i] = a
	}

	reply, err := memo.Do(ctx, cmdArgs...).Result()
	if err == redis.Nil {
		reply, err = nil, nil
	}
	if err != nil {
		return errors.Wrap(err, args[0])
	}

	printReply(w, reply)
	return nil
}

func main() {
	app := kingpin.New("memoq-client", "Send a command to a memoq server.")
	addr := app.Flag("addr", "Server address.").Default("localhost:5678").String()
	password := app.Flag("password", "Password for the default user.").Envar("MEMOQ_PASSWORD").String()
	timeout := app.Flag("timeout", "Dial and read timeout.").Default("5s").Duration()
	args := app.Arg("command", "Command and its arguments.").Required().Strings()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	memo := GetClient(*addr, *password, *timeout)
	defer memo.Close()

	if err := run(memo, *args, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
