package chart

import (
	"fmt"
	"html"
	"math"
	"strings"
)

const (
	svgWidth  = 640
	svgHeight = 360
	padLeft   = 56
	padRight  = 16
	padTop    = 28
	padBottom = 48
)

// SVG renders f as a standalone SVG element.
func SVG(f *Figure) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" class="chart chart-%s">`, svgWidth, svgHeight, f.Kind)
	fmt.Fprintf(&b, `<text x="%d" y="18" font-size="14" text-anchor="middle">%s</text>`, svgWidth/2, html.EscapeString(f.Title))
	if f.Kind == KindHeatmap {
		writeHeatmap(&b, f)
	} else {
		writeXY(&b, f)
	}
	b.WriteString("</svg>")
	return b.String()
}

func writeXY(b *strings.Builder, f *Figure) {
	n := len(f.Y)
	if n == 0 {
		return
	}
	plotW := float64(svgWidth - padLeft - padRight)
	plotH := float64(svgHeight - padTop - padBottom)
	ylo, yhi := f.Y[0], f.Y[0]
	for _, y := range f.Y {
		ylo = math.Min(ylo, y)
		yhi = math.Max(yhi, y)
	}
	if f.Kind == KindBar || f.Kind == KindHist {
		ylo = math.Min(ylo, 0)
		yhi = math.Max(yhi, 0)
	}
	if yhi == ylo {
		yhi = ylo + 1
	}
	sy := func(y float64) float64 { return padTop + plotH - (y-ylo)/(yhi-ylo)*plotH }

	numericX := f.X != nil && (f.Kind == KindLine || f.Kind == KindScatter)
	xlo, xhi := 0.0, float64(n)
	if numericX {
		xlo, xhi = f.X[0], f.X[n-1]
		if xhi == xlo {
			xhi = xlo + 1
		}
	}
	sx := func(i int) float64 {
		if numericX {
			return padLeft + (f.X[i]-xlo)/(xhi-xlo)*plotW
		}
		return padLeft + (float64(i)+0.5)/float64(n)*plotW
	}

	// axes
	fmt.Fprintf(b, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="#444"/>`, padLeft, padTop, padLeft, svgHeight-padBottom)
	fmt.Fprintf(b, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="#444"/>`, padLeft, svgHeight-padBottom, svgWidth-padRight, svgHeight-padBottom)
	fmt.Fprintf(b, `<text x="%d" y="%.1f" font-size="10" text-anchor="end">%s</text>`, padLeft-4, sy(yhi)+4, fmtTick(yhi))
	fmt.Fprintf(b, `<text x="%d" y="%.1f" font-size="10" text-anchor="end">%s</text>`, padLeft-4, sy(ylo)+4, fmtTick(ylo))
	fmt.Fprintf(b, `<text x="%d" y="%d" font-size="11" text-anchor="middle">%s</text>`, padLeft+int(plotW)/2, svgHeight-8, html.EscapeString(f.XLabel))

	step := 1
	if n > 10 {
		step = (n + 9) / 10
	}
	for i := 0; i < n; i += step {
		if i < len(f.Labels) {
			fmt.Fprintf(b, `<text x="%.1f" y="%d" font-size="9" text-anchor="middle">%s</text>`, sx(i), svgHeight-padBottom+14, html.EscapeString(truncLabel(f.Labels[i])))
		}
	}

	switch f.Kind {
	case KindLine:
		pts := make([]string, n)
		for i := range f.Y {
			pts[i] = fmt.Sprintf("%.1f,%.1f", sx(i), sy(f.Y[i]))
		}
		fmt.Fprintf(b, `<polyline fill="none" stroke="#1f77b4" stroke-width="2" points="%s"/>`, strings.Join(pts, " "))
	case KindScatter:
		for i := range f.Y {
			fmt.Fprintf(b, `<circle cx="%.1f" cy="%.1f" r="3" fill="#1f77b4"/>`, sx(i), sy(f.Y[i]))
		}
	default:
		bw := plotW / float64(n) * 0.8
		zero := sy(0)
		for i, y := range f.Y {
			top := math.Min(sy(y), zero)
			h := math.Abs(zero - sy(y))
			fmt.Fprintf(b, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="#1f77b4"/>`, sx(i)-bw/2, top, bw, h)
		}
	}
}

func writeHeatmap(b *strings.Builder, f *Figure) {
	n := len(f.Labels)
	if n == 0 {
		return
	}
	size := math.Min(float64(svgWidth-padLeft*2-padRight), float64(svgHeight-padTop-padBottom))
	cell := size / float64(n)
	x0 := float64(padLeft * 2)
	y0 := float64(padTop)
	for i := 0; i < n; i++ {
		fmt.Fprintf(b, `<text x="%.1f" y="%.1f" font-size="10" text-anchor="end">%s</text>`, x0-4, y0+(float64(i)+0.5)*cell+3, html.EscapeString(truncLabel(f.Labels[i])))
		fmt.Fprintf(b, `<text x="%.1f" y="%.1f" font-size="10" text-anchor="middle">%s</text>`, x0+(float64(i)+0.5)*cell, y0+size+14, html.EscapeString(truncLabel(f.Labels[i])))
		for j := 0; j < n; j++ {
			v := f.Matrix[i][j]
			fmt.Fprintf(b, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="%s"/>`, x0+float64(j)*cell, y0+float64(i)*cell, cell, cell, HeatColor(v))
			fmt.Fprintf(b, `<text x="%.1f" y="%.1f" font-size="10" text-anchor="middle">%.2f</text>`, x0+(float64(j)+0.5)*cell, y0+(float64(i)+0.5)*cell+3, v)
		}
	}
}

// HeatColor maps a correlation in [-1, 1] to a blue-white-red colour.
func HeatColor(r float64) string {
	r = math.Max(-1, math.Min(1, r))
	blue := [3]float64{59, 76, 192}
	white := [3]float64{221, 221, 221}
	red := [3]float64{180, 4, 38}
	from, to, t := white, red, r
	if r < 0 {
		from, to, t = white, blue, -r
	}
	c := [3]int{}
	for i := range c {
		c[i] = int(math.Round(from[i] + (to[i]-from[i])*t))
	}
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

func fmtTick(v float64) string { return fmt.Sprintf("%.4g", v) }

func truncLabel(s string) string {
	r := []rune(s)
	if len(r) > 12 {
		return string(r[:11]) + "…"
	}
	return s
}
