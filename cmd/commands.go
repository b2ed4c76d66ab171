package main

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

func ErrUnknownCmd(cmd string) error {
	return errors.Errorf("ERR unknown command '%s'", cmd)
}

func ErrInvalidNArg(cmd string) error {
	return errors.Errorf("ERR wrong number of arguments for '%s' command", cmd)
}

func ErrHelloOption(option string) error {
	return errors.Errorf("ERR Syntax error in HELLO option '%s'", option)
}

var ErrNotInt = errors.New("ERR value is not an integer or out of range")
var ErrUnbalancedQuotes = errors.New("ERR unbalanced quotes")
var ErrEmptyMessage = errors.New("ERR empty message")

type CommandType = byte

const (
	// Server commands
	CmdVersion CommandType = iota
	CmdPing
	CmdEcho
	CmdKeys
	CmdAuth
	CmdHello
	CmdInfo
	CmdDbSize
	CmdFlushAll
	CmdQuit
	// KV
	CmdSet
	CmdGet
	CmdDel
	CmdExists
	CmdType
	// Queues
	CmdQueuePushHead
	CmdQueuePushTail
	CmdQueuePop
	CmdQueueLen
	CmdQueueRange
	CmdQueueReverse
	CmdQueueSort
)

var commandNames = map[CommandType]string{
	CmdVersion:       "version",
	CmdPing:          "ping",
	CmdEcho:          "echo",
	CmdKeys:          "keys",
	CmdAuth:          "auth",
	CmdHello:         "hello",
	CmdInfo:          "info",
	CmdDbSize:        "dbsize",
	CmdFlushAll:      "flushall",
	CmdQuit:          "quit",
	CmdSet:           "set",
	CmdGet:           "get",
	CmdDel:           "del",
	CmdExists:        "exists",
	CmdType:          "type",
	CmdQueuePushHead: "lpush",
	CmdQueuePushTail: "rpush",
	CmdQueuePop:      "lpop",
	CmdQueueLen:      "llen",
	CmdQueueRange:    "lrange",
	CmdQueueReverse:  "qreverse",
	CmdQueueSort:     "qsort",
}

type AuthOptions struct {
	User     string
	Password string
}

type Command struct {
	Kind   CommandType
	Key    string
	Keys   []string
	Value  string
	Values []string

	Pattern     string      // keys
	Start, Stop int         // lrange
	Auth        AuthOptions // auth, hello
	RespVersion string      // hello
}

// Name is the canonical command name, aliases resolved. Used as a metric
// label.
func (c *Command) Name() string {
	return commandNames[c.Kind]
}

func ParseCommand(message string) (*Command, error) {
	split, err := sanitize(message)
	if err != nil {
		return nil, err
	}
	return parseArgs(split)
}

func parseArgs(split []string) (*Command, error) {
	argc := len(split)
	if argc == 0 {
		return nil, ErrEmptyMessage
	}

	cmd := strings.ToLower(split[0])
	switch cmd {
	case "version":
		if argc != 1 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdVersion}, nil
	case "ping":
		if argc > 2 {
			return nil, ErrInvalidNArg(cmd)
		}
		ping := &Command{Kind: CmdPing}
		if argc == 2 {
			ping.Value = split[1]
		}
		return ping, nil
	case "echo":
		if argc != 2 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdEcho, Value: split[1]}, nil
	case "keys":
		if argc > 2 {
			return nil, ErrInvalidNArg(cmd)
		}

		keys := &Command{Kind: CmdKeys, Pattern: "*"}
		if argc == 2 {
			keys.Pattern = split[1]
		}
		return keys, nil
	case "info":
		if argc > 2 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdInfo}, nil
	case "dbsize":
		if argc != 1 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdDbSize}, nil
	case "flushall":
		if argc > 2 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdFlushAll}, nil
	case "quit":
		return &Command{Kind: CmdQuit}, nil
	case "auth":
		switch argc {
		case 2:
			return &Command{Kind: CmdAuth, Auth: AuthOptions{Password: split[1]}}, nil
		case 3:
			return &Command{Kind: CmdAuth, Auth: AuthOptions{User: split[1], Password: split[2]}}, nil
		}
		return nil, ErrInvalidNArg(cmd)
	case "hello":
		hello := &Command{Kind: CmdHello}
		if argc > 1 {
			hello.RespVersion = split[1]
		}
		if argc > 2 {
			if strings.ToLower(split[2]) != "auth" {
				return nil, ErrHelloOption(split[2])
			}
			if argc != 5 {
				return nil, ErrInvalidNArg(cmd)
			}

			hello.Auth.User = split[3]
			hello.Auth.Password = split[4]
		}
		return hello, nil
	case "set":
		if argc != 3 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdSet, Key: split[1], Value: split[2]}, nil
	case "get":
		if argc != 2 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdGet, Key: split[1]}, nil
	case "del":
		if argc < 2 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdDel, Keys: split[1:]}, nil
	case "exists":
		if argc < 2 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdExists, Keys: split[1:]}, nil
	case "type":
		if argc != 2 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdType, Key: split[1]}, nil
	case "lpush":
		if argc < 3 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdQueuePushHead, Key: split[1], Values: split[2:]}, nil
	case "rpush", "qadd":
		if argc < 3 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdQueuePushTail, Key: split[1], Values: split[2:]}, nil
	case "lpop", "qpop":
		if argc != 2 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdQueuePop, Key: split[1]}, nil
	case "llen", "qlen":
		if argc != 2 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdQueueLen, Key: split[1]}, nil
	case "lrange":
		if argc != 4 {
			return nil, ErrInvalidNArg(cmd)
		}
		start, err := strconv.Atoi(split[2])
		if err != nil {
			return nil, ErrNotInt
		}
		stop, err := strconv.Atoi(split[3])
		if err != nil {
			return nil, ErrNotInt
		}
		return &Command{Kind: CmdQueueRange, Key: split[1], Start: start, Stop: stop}, nil
	case "qshow":
		if argc != 2 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdQueueRange, Key: split[1], Start: 0, Stop: -1}, nil
	case "qreverse":
		if argc != 2 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdQueueReverse, Key: split[1]}, nil
	case "qsort":
		if argc != 2 {
			return nil, ErrInvalidNArg(cmd)
		}
		return &Command{Kind: CmdQueueSort, Key: split[1]}, nil
	}

	return nil, ErrUnknownCmd(cmd)
}

func isWhitespace(b byte) bool {
	return unicode.IsSpace(rune(b))
}

// sanitize splits an inline command into arguments. Single or double
// quotes group words; the quotes themselves are dropped.
func sanitize(message string) ([]string, error) {
	out := []string{}
	i := 0

	for i < len(message) {
		c := message[i]
		if isWhitespace(c) {
			i++
			continue
		}

		if c == '"' || c == '\'' {
			end := strings.IndexByte(message[i+1:], c)
			if end < 0 {
				return nil, ErrUnbalancedQuotes
			}

			out = append(out, message[i+1:i+1+end])
			i += end + 2
			continue
		}

		start := i
		for i < len(message) && !isWhitespace(message[i]) {
			i++
		}
		out = append(out, message[start:i])
	}

	return out, nil
}
