package lineconn

import (
	"reflect"
	"testing"
)

func TestFramer_Feed(t *testing.T) {
	cases := []struct {
		name  string
		feeds []string
		want  []string
	}{
		{
			name:  "single LF line",
			feeds: []string{"hello\n"},
			want:  []string{"hello"},
		},
		{
			name:  "CRLF line",
			feeds: []string{"hello\r\n"},
			want:  []string{"hello"},
		},
		{
			name:  "multiple lines in one chunk",
			feeds: []string{"a\nb\nc\n"},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "partial line held across feeds",
			feeds: []string{"par", "tial\n"},
			want:  []string{"partial"},
		},
		{
			name:  "lone CR with no LF stays buffered",
			feeds: []string{"odd\rline\n"},
			want:  []string{"odd\rline"},
		},
		{
			name:  "empty line",
			feeds: []string{"\n"},
			want:  []string{""},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var f Framer
			var got []string
			for _, chunk := range tc.feeds {
				got = append(got, f.Feed([]byte(chunk))...)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestFramer_NoTrailingNewlineStaysBuffered(t *testing.T) {
	var f Framer
	if lines := f.Feed([]byte("no newline yet")); len(lines) != 0 {
		t.Fatalf("expected no lines yet, got %#v", lines)
	}
	lines := f.Feed([]byte(" now\n"))
	if want := []string{"no newline yet now"}; !reflect.DeepEqual(lines, want) {
		t.Fatalf("got %#v, want %#v", lines, want)
	}
}
