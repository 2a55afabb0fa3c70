// Package console implements the interactive stdin command loop: exit,
// cache, forwarder_on, forwarder_off (spec.md §6). Out of scope for deep
// design per spec.md §1 — a thin reader dispatching to the server.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Server is the subset of *server.Server the console needs. Defined here
// as an interface so the loop can run against a fake in tests; main
// passes the real *server.Server.
type Server interface {
	CacheStatus() string
	SetForwarderEnabled(enabled bool)
}

// Run reads newline-delimited commands from in until "exit" or EOF,
// writing each command's output to out; no prompt is printed. It returns
// when "exit" is read or the input is exhausted.
func Run(in io.Reader, out io.Writer, s Server) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch cmd {
		case "exit":
			return
		case "cache":
			fmt.Fprint(out, s.CacheStatus())
		case "forwarder_on":
			s.SetForwarderEnabled(true)
			fmt.Fprintln(out, "forwarder enabled")
		case "forwarder_off":
			s.SetForwarderEnabled(false)
			fmt.Fprintln(out, "forwarder disabled")
		case "":
			// blank line, ignore
		default:
			fmt.Fprintf(out, "unknown command: %q\n", cmd)
		}
	}
}
