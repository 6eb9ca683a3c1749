package server

import (
	"io"
	"os"

	"go.lsp.dev/jsonrpc2"
	"go.uber.org/multierr"
)

// stdio glues stdin and stdout into the single ReadWriteCloser the
// jsonrpc2 stream wants.
type stdio struct {
	in  io.ReadCloser
	out io.WriteCloser
}

func (s stdio) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s stdio) Write(p []byte) (int, error) { return s.out.Write(p) }

func (s stdio) Close() error {
	return multierr.Append(s.in.Close(), s.out.Close())
}

// StdioStream returns a Content-Length framed jsonrpc2 stream over the
// process's standard input and output. Log output must stay on stderr;
// stdout belongs to the protocol.
func StdioStream() jsonrpc2.Stream {
	return jsonrpc2.NewStream(stdio{in: os.Stdin, out: os.Stdout})
}
