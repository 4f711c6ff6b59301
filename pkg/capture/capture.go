package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"Dot11/pkg/layers"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/multierr"
)

const snapLength = 65535

// Writer records frames seen on a medium into a pcap stream. It is safe for
// concurrent use and can be installed directly as medium.Network.Tap.
type Writer struct {
	// Start is the wall time that medium time zero maps to.
	Start time.Time

	mu     sync.Mutex
	pcap   *pcapgo.Writer
	closer io.Closer
	count  int
	err    error
}

func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLength, layers.LinkTypeMACFrame); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Writer{Start: time.Now(), pcap: pw}, nil
}

// Create writes a capture to a new file at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f)
	if err != nil {
		return nil, multierr.Append(err, f.Close())
	}
	w.closer = f
	return w, nil
}

func (w *Writer) WriteFrame(at time.Duration, frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     w.Start.Add(at),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := w.pcap.WritePacket(ci, frame); err != nil {
		return err
	}
	w.count++
	return nil
}

// Tap writes frame and keeps the first error for Close.
func (w *Writer) Tap(at time.Duration, frame []byte) {
	if err := w.WriteFrame(at, frame); err != nil {
		w.mu.Lock()
		if w.err == nil {
			w.err = err
		}
		w.mu.Unlock()
	}
}

// Count is the number of frames written so far.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.err
	if w.closer != nil {
		err = multierr.Append(err, w.closer.Close())
		w.closer = nil
	}
	return err
}

type Record struct {
	Timestamp time.Time
	Frame     *layers.MACFrame
	Payload   []byte
}

var ErrLinkType = errors.New("not a MAC frame capture")

// ReadFrames decodes every record of a capture written by Writer. Records that
// fail to decode are returned with a nil Frame.
func ReadFrames(r io.Reader) ([]Record, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}
	if pr.LinkType() != layers.LinkTypeMACFrame {
		return nil, fmt.Errorf("%w: link type %v", ErrLinkType, pr.LinkType())
	}

	source := gopacket.NewPacketSource(pr, layers.LayerTypeMACFrame)
	var records []Record
	for {
		packet, err := source.NextPacket()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		record := Record{Timestamp: packet.Metadata().Timestamp}
		if frame, ok := packet.Layer(layers.LayerTypeMACFrame).(*layers.MACFrame); ok {
			record.Frame = frame
			record.Payload = frame.LayerPayload()
		}
		records = append(records, record)
	}
}
