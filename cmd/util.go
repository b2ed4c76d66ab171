package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnsupportedType = errors.New("ERR Protocol error: expected a string or an array of strings")

// Convert parsed request to a string
func StringifyRequest(req any) (string, error) {
	var exec string
	switch req := req.(type) {
	case string:
		exec = req
	case []any:
		for i, v := range req {
			s, ok := v.(string)
			if !ok {
				return "", ErrUnsupportedType
			}
			if i != 0 {
				exec += " "
			}

			if strings.ContainsAny(s, " \t\r\n") || s == "" {
				s = "\"" + s + "\""
			}

			exec += s
		}
	default:
		return "", ErrUnsupportedType
	}

	return exec, nil
}

// Split a parsed request into command arguments. Arrays are taken as they
// are, inline commands go through the tokenizer.
func requestArgs(req any) ([]string, error) {
	switch req := req.(type) {
	case string:
		return sanitize(req)
	case []any:
		args := make([]string, len(req))
		for i, v := range req {
			s, ok := v.(string)
			if !ok {
				return nil, ErrUnsupportedType
			}
			args[i] = s
		}
		return args, nil
	}
	return nil, ErrUnsupportedType
}

// Check if a given file path exists
func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !errors.Is(err, os.ErrNotExist)
}
