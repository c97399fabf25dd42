package client

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lineframe/kvline/frame"
)

// FormatReply renders f the way the CLI prints server replies: quoted
// strings, a Go %v debug form for non-UTF-8 bytes, and "(nil)" for Null,
// per §7's user-visible behavior rules.
func FormatReply(f frame.Frame) string {
	switch f.Kind {
	case frame.KindSimple:
		return f.Str
	case frame.KindError:
		return "(error) " + f.Str
	case frame.KindInteger:
		return fmt.Sprintf("(integer) %d", f.Int)
	case frame.KindNull:
		return "(nil)"
	case frame.KindBulk:
		return formatBulk(f.Bulk)
	case frame.KindArray:
		return formatArray(f)
	default:
		return fmt.Sprintf("%v", f)
	}
}

func formatBulk(b []byte) string {
	if utf8.Valid(b) {
		return fmt.Sprintf("%q", string(b))
	}
	return fmt.Sprintf("%v", b)
}

// formatArray renders a subscribe/unsubscribe/message array as the CLI's
// channel+payload line; any other array falls back to a bracketed list of
// its formatted elements.
func formatArray(f frame.Frame) string {
	if len(f.Items) == 3 && f.Items[0].Kind == frame.KindSimple {
		switch f.Items[0].Str {
		case "message":
			return fmt.Sprintf("message from %q: %s", f.Items[1].Str, formatBulk(f.Items[2].Bulk))
		case "subscribe", "unsubscribe":
			return fmt.Sprintf("%s %q (%d channels)", f.Items[0].Str, f.Items[1].Str, f.Items[2].Int)
		}
	}
	parts := make([]string, len(f.Items))
	for i, item := range f.Items {
		parts[i] = FormatReply(item)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
