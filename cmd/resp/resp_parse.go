package resp

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Resp protocol's data types
const (
	RespStatus = '+' // +<string>\r\n
	RespError  = '-' // -<string>\r\n
	RespString = '$' // $<length>\r\n<bytes>\r\n
	RespInt    = ':' // :<number>\r\n
	RespNil    = '_' // _\r\n
	RespBool   = '#' // true: #t\r\n false: #f\r\n
	RespArray  = '*' // *<len>\r\n...
)

var ErrProtocol = errors.New("Protocol error")

// MaxBulkLen caps the size of a single bulk string.
const MaxBulkLen = 512 * 1024 * 1024

// Read parses one value. Bulk strings come back as string, arrays as
// []any, errors as error values and null bulk strings or arrays as nil.
// Lines that do not start with a type byte are inline commands and are
// returned as they are.
func Read(r *bufio.Reader) (any, error) {
	l, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}

	line := strings.TrimRight(l, "\r\n")
	if line == "" {
		return "", nil
	}

	switch line[0] {
	case RespNil:
		return nil, nil
	case RespBool:
		if len(line) != 2 || (line[1] != 't' && line[1] != 'f') {
			return nil, errors.Wrapf(ErrProtocol, "invalid bool %q", line)
		}
		return line[1] == 't', nil
	case RespInt:
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return nil, errors.Wrapf(ErrProtocol, "invalid integer %q", line)
		}
		return n, nil
	case RespStatus:
		return line[1:], nil
	case RespString:
		return readString(r, line)
	case RespError:
		return errors.New(line[1:]), nil
	case RespArray:
		return readSlice(r, line)
	}

	return line, nil
}

func readString(r *bufio.Reader, line string) (any, error) {
	n, err := replyLen(line)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	if n > MaxBulkLen {
		return nil, errors.Wrap(ErrProtocol, "invalid bulk length")
	}

	b := make([]byte, n+2)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	if b[n] != '\r' || b[n+1] != '\n' {
		return nil, errors.Wrap(ErrProtocol, "bulk string not terminated by CRLF")
	}

	return string(b[:n]), nil
}

func readSlice(r *bufio.Reader, line string) (any, error) {
	n, err := replyLen(line)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}

	arr := make([]any, n)
	for i := 0; i < len(arr); i++ {
		v, err := Read(r)
		if err != nil {
			return arr, err
		}

		arr[i] = v
	}

	return arr, nil
}

func replyLen(line string) (int, error) {
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return 0, errors.Wrapf(ErrProtocol, "invalid length %q", line)
	}

	return n, nil
}
