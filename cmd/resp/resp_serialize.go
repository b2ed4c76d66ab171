// Provide serialization functions for compliance with the REdis Serialization Protocol
// specification, see: https://redis.io/docs/reference/protocol-spec/#resp-protocol-description
package resp

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SimpleString is written as a status reply (+OK) instead of a bulk string.
type SimpleString string

const OK = SimpleString("OK")

func Serialize(v any) (string, error) {
	var sb strings.Builder
	if err := write(&sb, v); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func write(sb *strings.Builder, v any) error {
	switch v := v.(type) {
	case nil:
		sb.WriteString(SerializeNil())
	case bool:
		sb.WriteString(SerializeBool(v))
	case int:
		sb.WriteString(SerializeInt(v))
	case int64:
		sb.WriteString(":" + strconv.FormatInt(v, 10) + "\r\n")
	case SimpleString:
		sb.WriteString(SerializeSimpleStr(string(v)))
	case string:
		sb.WriteString(SerializeStr(v))
	case error:
		sb.WriteString(SerializeError(v))
	case []string:
		sb.WriteString("*" + strconv.Itoa(len(v)) + "\r\n")
		for _, s := range v {
			sb.WriteString(SerializeStr(s))
		}
	case []any:
		sb.WriteString("*" + strconv.Itoa(len(v)) + "\r\n")
		for _, el := range v {
			if err := write(sb, el); err != nil {
				return err
			}
		}
	default:
		return errors.Errorf("value of type %T cannot be serialized", v)
	}
	return nil
}

func SerializeNil() string {
	return "$-1\r\n"
}

// RESP2 has no boolean type, so booleans are sent as 1 or 0.
func SerializeBool(b bool) string {
	if b {
		return SerializeInt(1)
	}
	return SerializeInt(0)
}

func SerializeSimpleStr(str string) string {
	return "+" + str + "\r\n"
}

func SerializeStr(str string) string {
	out := "$"
	out += strconv.Itoa(len(str)) + "\r\n"
	out += str + "\r\n"
	return out
}

// Error replies must fit on one line.
func SerializeError(err error) string {
	msg := strings.NewReplacer("\r", " ", "\n", " ").Replace(err.Error())
	return "-" + msg + "\r\n"
}

func SerializeInt(n int) string {
	return ":" + strconv.Itoa(n) + "\r\n"
}

// SerializeCommand encodes args as an array of bulk strings, the form
// clients use to send commands.
func SerializeCommand(args ...string) string {
	s, _ := Serialize(args)
	return s
}
