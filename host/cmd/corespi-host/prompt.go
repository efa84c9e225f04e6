package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	tty "github.com/mattn/go-tty"
)

const promptText = "> "

// lineReader yields one command line per call, io.EOF at the end of input
type lineReader interface {
	ReadLine() (string, error)
	Close() error
}

// newLineReader edits lines on the controlling terminal when stdin is one,
// otherwise reads stdin line by line
func newLineReader() lineReader {
	if fi, err := os.Stdin.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		if t, err := tty.Open(); err == nil {
			return &ttyReader{t: t}
		}
	}
	return &scanReader{s: bufio.NewScanner(os.Stdin), out: os.Stdout}
}

type ttyReader struct {
	t *tty.TTY
}

func (r *ttyReader) ReadLine() (string, error) {
	out := r.t.Output()
	fmt.Fprint(out, promptText)
	line, err := r.t.ReadString()
	fmt.Fprintln(out)
	return line, err
}

func (r *ttyReader) Close() error {
	return r.t.Close()
}

type scanReader struct {
	s   *bufio.Scanner
	out io.Writer
}

func (r *scanReader) ReadLine() (string, error) {
	fmt.Fprint(r.out, promptText)
	if !r.s.Scan() {
		if err := r.s.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.s.Text(), nil
}

func (r *scanReader) Close() error {
	return nil
}
