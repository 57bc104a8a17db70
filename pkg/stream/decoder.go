package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/launchpad-dev/launchpad-cli/pkg/deployment"
)

// DataPrefix starts every line that carries an event payload
const DataPrefix = "data:"

// maxLineSize bounds a single event line; large initial snapshots fit comfortably
const maxLineSize = 4 << 20

// Decoder turns an event-stream body into StreamEvents
type Decoder struct {
	r *bufio.Reader
	// OnInvalid, if set, receives lines whose payload failed validation
	OnInvalid func(line string, err error)
}

// NewDecoder reads events from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64<<10)}
}

// errLineTooLong is reported for a line exceeding maxLineSize
var errLineTooLong = errors.New("event line too long")

// Next returns the next valid event. Lines that are not data lines or that
// fail validation are skipped. io.EOF signals a clean end of stream.
func (d *Decoder) Next() (deployment.StreamEvent, error) {
	for {
		line, err := d.readLine()
		if line != "" {
			if ev, ok := d.parse(line); ok {
				return ev, nil
			}
		}
		if err != nil {
			return deployment.StreamEvent{}, err
		}
	}
}

func (d *Decoder) parse(line string) (deployment.StreamEvent, bool) {
	if !strings.HasPrefix(line, DataPrefix) {
		return deployment.StreamEvent{}, false
	}
	payload := strings.TrimPrefix(strings.TrimPrefix(line, DataPrefix), " ")
	if payload == "" {
		return deployment.StreamEvent{}, false
	}
	ev, err := deployment.ParseStreamEvent([]byte(payload))
	if err != nil {
		if d.OnInvalid != nil {
			d.OnInvalid(line, err)
		}
		return deployment.StreamEvent{}, false
	}
	return ev, true
}

// readLine returns one line without its terminator. A final line without
// a newline is returned together with io.EOF.
func (d *Decoder) readLine() (string, error) {
	var sb strings.Builder
	for {
		chunk, isPrefix, err := d.r.ReadLine()
		sb.Write(chunk)
		if sb.Len() > maxLineSize {
			return "", errLineTooLong
		}
		if err != nil {
			return strings.TrimSuffix(sb.String(), "\r"), err
		}
		if !isPrefix {
			return strings.TrimSuffix(sb.String(), "\r"), nil
		}
	}
}
