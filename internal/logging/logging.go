package logging

import (
	"io"
	"log"
	"os"
)

func New(component string) *log.Logger {
	return NewTo(os.Stdout, component)
}

// NewTo builds a logger with the standard prefix writing to w.
func NewTo(w io.Writer, component string) *log.Logger {
	prefix := "stamp "
	if component != "" {
		prefix = "stamp-" + component + " "
	}
	return log.New(w, prefix, log.LstdFlags|log.LUTC)
}

func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
