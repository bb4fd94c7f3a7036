package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/juniper-run/juniper/pkg/kernel"
)

// writerSink renders orchestrator output onto a writer: transitional
// messages, then the kernel output stream.
type writerSink struct {
	w io.Writer
}

func newWriterSink(w io.Writer) *writerSink {
	return &writerSink{w: w}
}

func (s *writerSink) WriteMessage(text string) {
	fmt.Fprintln(s.w, text)
}

// Clear is a no-op on a terminal stream; transitional content simply
// scrolls away.
func (s *writerSink) Clear() {}

func (s *writerSink) Stream(future *kernel.ExecuteFuture) {
	for out := range future.Outputs() {
		text := out.Text
		if out.Kind != "stream" && !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		fmt.Fprint(s.w, text)
	}
	if err := future.Err(); err != nil {
		fmt.Fprintf(s.w, "\n%v\n", err)
	}
}
