package providers

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

// sseDecoder turns one data payload into a text fragment. done ends the stream.
type sseDecoder func(data string) (text string, done bool, err error)

// pumpSSE reads server-sent events from body until the decoder reports done,
// the body ends or ctx is cancelled. It owns body and closes out.
func pumpSSE(ctx context.Context, body io.ReadCloser, out chan<- StreamChunk, decode sseDecoder) {
	defer close(out)
	defer body.Close()

	send := func(c StreamChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	r := bufio.NewReaderSize(body, 64*1024)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			if data, ok := strings.CutPrefix(line, "data:"); ok {
				data = strings.TrimSpace(data)
				if data == "" {
					continue
				}
				text, done, derr := decode(data)
				if derr != nil {
					send(StreamChunk{Err: derr})
					return
				}
				if text != "" && !send(StreamChunk{Text: text}) {
					return
				}
				if done {
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if ctx.Err() == nil {
				send(StreamChunk{Err: err})
			}
			return
		}
	}
}
