// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transcript

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/sextant/pkg/hexcodec"
)

const timestampLayout = "15:04:05.000"

// RenderLine formats a single entry as one transcript line:
// timestamp, direction marker, content.
func RenderLine(e Entry, hexMode bool) string {
	content := e.Text
	if hexMode {
		content = e.Hex
	} else {
		content = hexcodec.EscapeControl(content)
	}
	return fmt.Sprintf("%s %s %s", e.Timestamp.Format(timestampLayout), e.Kind.Marker(), content)
}

// Render formats entries one line each, for display or for the log sink
// to persist verbatim.
func Render(entries []Entry, hexMode bool) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(RenderLine(e, hexMode))
		sb.WriteByte('\n')
	}
	return sb.String()
}
