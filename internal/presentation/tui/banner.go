package tui

import (
	"fmt"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{" _          _                 ", "#818cf8"},
	{"| |    ___ | | __ _  ___ _ __ ", "#a78bfa"},
	{"| |   / _ \\| |/ _` |/ _ \\ '__|", "#c084fc"},
	{"| |__|  __/| | (_| |  __/ |   ", "#e879f9"},
	{"|_____\\___||_|\\__, |\\___|_|   ", "#f472b6"},
	{"               |___/          ", "#fb7185"},
}

// Banner prints the ledger banner.
func (p *Printer) Banner() {
	fmt.Fprintln(p.w)
	for _, l := range bannerLines {
		fmt.Fprintln(p.w, p.out.String(l.text).Foreground(p.out.Color(l.color)))
	}
	fmt.Fprintln(p.w)
}
