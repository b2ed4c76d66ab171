package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintReply(t *testing.T) {
	for _, tc := range []struct {
		name  string
		reply any
		want  string
	}{
		{name: "nil", reply: nil, want: "(nil)\n"},
		{name: "status", reply: "OK", want: "\"OK\"\n"},
		{name: "integer", reply: int64(3), want: "(integer) 3\n"},
		{name: "empty", reply: []any{}, want: "(empty array)\n"},
		{name: "array", reply: []any{"apple", "banana"}, want: "1) \"apple\"\n2) \"banana\"\n"},
		{
			name:  "nested",
			reply: []any{"a", []any{"b", []any{"c"}}, "d"},
			want: "1) \"a\"\n" +
				"2) 1) \"b\"\n" +
				"   2) 1) \"c\"\n" +
				"3) \"d\"\n",
		},
		{
			name:  "hello",
			reply: []any{"server", "memoq", "proto", int64(2), "a", "b", "c", "d", "e", "modules", []any{}},
			want: " 1) \"server\"\n" +
				" 2) \"memoq\"\n" +
				" 3) \"proto\"\n" +
				" 4) (integer) 2\n" +
				" 5) \"a\"\n" +
				" 6) \"b\"\n" +
				" 7) \"c\"\n" +
				" 8) \"d\"\n" +
				" 9) \"e\"\n" +
				"10) \"modules\"\n" +
				"11) (empty array)\n",
		},
		{
			name:  "nested wide",
			reply: []any{[]any{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}},
			want: "1)  1) \"1\"\n" +
				"    2) \"2\"\n" +
				"    3) \"3\"\n" +
				"    4) \"4\"\n" +
				"    5) \"5\"\n" +
				"    6) \"6\"\n" +
				"    7) \"7\"\n" +
				"    8) \"8\"\n" +
				"    9) \"9\"\n" +
				"   10) \"10\"\n",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			printReply(&buf, tc.reply)
			assert.Equal(t, tc.want, buf.String())
		})
	}
}
