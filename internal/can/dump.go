package can

import (
	"fmt"
	"strings"
)

// Dump renders a frame the way candump prints it, e.g.
// "123 [4] DE AD BE EF" or "RTR 1ABCDEFF [0] ".
func Dump(canID uint32, data []byte) string {
	var sb strings.Builder
	// The markers are exclusive: an error frame never prints RTR.
	switch {
	case canID&ERRFlag != 0:
		sb.WriteString("ERR ")
	case canID&RTRFlag != 0:
		sb.WriteString("RTR ")
	}
	if canID&EFFFlag != 0 {
		fmt.Fprintf(&sb, "%08X ", canID&EFFMask)
	} else {
		fmt.Fprintf(&sb, "%03X ", canID&SFFMask)
	}
	fmt.Fprintf(&sb, "[%d] ", len(data))
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
