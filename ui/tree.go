package ui

import (
	"strings"
	"unicode/utf8"
)

// Tree hierarchy symbols using box drawing characters
const (
	TreeBranch     = "├── "
	TreeLastBranch = "└── "
	TreeContinue   = "│   "
	TreeIndent     = "    "

	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxVertical    = "│"
	BoxHorizontal  = "─"
	BoxTeeRight    = "├"
	BoxTeeLeft     = "┤"
)

// Node is one entry of a rendered tree
type Node struct {
	Label    string
	Children []Node
}

// BuildTreePrefix returns the connector for an entry at depth (1-based).
// parentIsLast records, per ancestor level, whether that ancestor was the last of its siblings.
func BuildTreePrefix(depth int, isLast bool, parentIsLast []bool) string {
	if depth <= 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < depth-1; i++ {
		if i < len(parentIsLast) && parentIsLast[i] {
			b.WriteString(TreeIndent)
		} else {
			b.WriteString(TreeContinue)
		}
	}
	if isLast {
		b.WriteString(TreeLastBranch)
	} else {
		b.WriteString(TreeBranch)
	}
	return b.String()
}

// RenderTree renders nodes below root, one line per node
func RenderTree(root string, nodes []Node) string {
	var b strings.Builder
	b.WriteString(root)
	b.WriteString("\n")
	renderNodes(&b, nodes, 1, nil)
	return b.String()
}

func renderNodes(b *strings.Builder, nodes []Node, depth int, parentIsLast []bool) {
	for i, n := range nodes {
		last := i == len(nodes)-1
		b.WriteString(BuildTreePrefix(depth, last, parentIsLast))
		b.WriteString(n.Label)
		b.WriteString("\n")
		if len(n.Children) > 0 {
			renderNodes(b, n.Children, depth+1, append(append([]bool(nil), parentIsLast...), last))
		}
	}
}

// BuildBox frames title and lines. The box widens to fit the title but truncates long lines.
func BuildBox(title string, lines []string, width int) string {
	if minWidth := utf8.RuneCountInString(title) + 4; width < minWidth {
		width = minWidth
	}
	inner := width - 2

	var b strings.Builder
	b.WriteString(BoxTopLeft + strings.Repeat(BoxHorizontal, inner) + BoxTopRight + "\n")
	b.WriteString(boxLine(title, width))
	if len(lines) > 0 {
		b.WriteString(BoxTeeRight + strings.Repeat(BoxHorizontal, inner) + BoxTeeLeft + "\n")
		for _, l := range lines {
			b.WriteString(boxLine(l, width))
		}
	}
	b.WriteString(BoxBottomLeft + strings.Repeat(BoxHorizontal, inner) + BoxBottomRight + "\n")
	return b.String()
}

// boxLine pads content to the box width, truncating by runes with an ellipsis
func boxLine(content string, width int) string {
	max := width - 4
	runes := []rune(content)
	if len(runes) > max {
		if max > 3 {
			runes = append(runes[:max-3], []rune("...")...)
		} else {
			runes = runes[:max]
		}
	}
	return BoxVertical + " " + string(runes) + strings.Repeat(" ", max-len(runes)) + " " + BoxVertical + "\n"
}
