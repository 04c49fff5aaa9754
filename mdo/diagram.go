package mdo

import (
	"fmt"
	"html"
	"os"
	"strings"
)

// WriteDiagram emits a static HTML view of the model graph: the component
// tree with declared variables and the connection table. Diagnostic only;
// nothing reads it back.
func (p *Problem) WriteDiagram(path string) error {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head><title>model graph</title>\n")
	b.WriteString("<style>body{font-family:monospace} td{padding:2px 12px}</style>\n")
	b.WriteString("</head>\n<body>\n<h2>Model</h2>\n<ul>\n")
	for _, name := range p.order {
		c := p.comps[name]
		fmt.Fprintf(&b, "<li><b>%s</b> (%s)\n<ul>\n", html.EscapeString(name), compKind(c))
		for _, in := range c.Inputs() {
			fmt.Fprintf(&b, "<li>in: %s</li>\n", html.EscapeString(in))
		}
		for _, out := range c.Outputs() {
			fmt.Fprintf(&b, "<li>out: %s</li>\n", html.EscapeString(out))
		}
		b.WriteString("</ul>\n</li>\n")
	}
	b.WriteString("</ul>\n<h2>Connections</h2>\n<table>\n")
	for _, conn := range p.conns {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>&rarr;</td><td>%s</td></tr>\n",
			html.EscapeString(conn.Src), html.EscapeString(conn.Dst))
	}
	b.WriteString("</table>\n<h2>Optimization</h2>\n<table>\n")
	for _, dv := range p.designVars {
		fmt.Fprintf(&b, "<tr><td>design var</td><td>%s</td><td>[%g, %g]</td><td>scaler %g</td></tr>\n",
			html.EscapeString(dv.Name), dv.Lower, dv.Upper, dv.Scaler)
	}
	for _, obj := range p.objectives {
		fmt.Fprintf(&b, "<tr><td>objective</td><td>%s</td><td colspan=2>scaler %g</td></tr>\n",
			html.EscapeString(obj.Path), obj.Scaler)
	}
	b.WriteString("</table>\n</body>\n</html>\n")
	return os.WriteFile(path, []byte(b.String()), 0644)
}

func compKind(c Component) string {
	switch c.(type) {
	case *IndepVarComp:
		return "indep"
	case *ExecComp:
		return "exec"
	case *Scenario:
		return "scenario"
	default:
		return "component"
	}
}
