package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/valscope/valscope/internal/layout"
)

// Truncated is emitted where the depth budget ran out. Truncation is a display
// degradation, not an error.
const Truncated = "…"

// CycleMarker is emitted where a nested pointer leads back to an ancestor on
// the current decode path.
const CycleMarker = "<cycle>"

// Render decodes the tagged value at addr and formats it. It always returns a
// string for a readable root: sub-failures embed error tokens rather than
// aborting the rendering.
func (r *Renderer) Render(addr uint64, depthBudget int) (string, error) {
	node, err := r.Decode(addr, depthBudget)
	if err != nil {
		return "", err
	}
	return r.Format(node), nil
}

// RenderAs formats the value at addr through a forced layout, ignoring its
// header tag. For a correctly tagged value the output equals Render's.
func (r *Renderer) RenderAs(addr uint64, tag layout.TypeTag, depthBudget int) (string, error) {
	node, err := r.DecodeAs(addr, tag, depthBudget)
	if err != nil {
		return "", err
	}
	return r.Format(node), nil
}

// Format renders a decoded tree as text.
func (r *Renderer) Format(node *Node) string {
	var sb strings.Builder
	r.format(&sb, node)
	return sb.String()
}

func (r *Renderer) format(sb *strings.Builder, node *Node) {
	switch node.Kind {
	case NodeValue:
		if node.Bare && len(node.Fields) == 1 {
			r.format(sb, node.Fields[0])
			return
		}
		sb.WriteString(r.paintName(node.Name))
		sb.WriteByte('(')
		for i, f := range node.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			r.format(sb, f)
		}
		sb.WriteByte(')')

	case NodeArray:
		sb.WriteByte('[')
		for i, f := range node.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			r.format(sb, f)
		}
		sb.WriteByte(']')

	case NodeInt:
		sb.WriteString(strconv.FormatInt(node.Int, 10))

	case NodeString:
		sb.WriteString(r.paintString(strconv.Quote(node.Str)))

	case NodeRaw:
		sb.WriteString(fmt.Sprintf("<raw@0x%x>", node.Addr))

	case NodeNull:
		sb.WriteString("0x0")

	case NodeCycle:
		sb.WriteString(r.paintMarker(CycleMarker))

	case NodeTruncated:
		sb.WriteString(Truncated)

	case NodeErr:
		sb.WriteString(r.paintError(fmt.Sprintf("<unreadable@0x%x>", node.Addr)))
	}
}

func (r *Renderer) paintName(s string) string {
	if !r.opts.Colorize {
		return s
	}
	return color.New(color.FgCyan, color.Bold).Sprint(s)
}

func (r *Renderer) paintString(s string) string {
	if !r.opts.Colorize {
		return s
	}
	return color.New(color.FgGreen).Sprint(s)
}

func (r *Renderer) paintMarker(s string) string {
	if !r.opts.Colorize {
		return s
	}
	return color.New(color.FgYellow).Sprint(s)
}

func (r *Renderer) paintError(s string) string {
	if !r.opts.Colorize {
		return s
	}
	return color.New(color.FgRed).Sprint(s)
}
