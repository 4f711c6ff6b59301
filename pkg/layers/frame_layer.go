package layers

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/google/gopacket"
	golayers "github.com/google/gopacket/layers"
)

// LayerTypeMACFrame lets captured frames be decoded with gopacket.
var LayerTypeMACFrame = gopacket.RegisterLayerType(2011, gopacket.LayerTypeMetadata{
	Name:    "MACFrame",
	Decoder: gopacket.DecodeFunc(decodeMACFrame),
})

// LinkTypeMACFrame is LINKTYPE_USER0, the pcap link type of frame captures.
const LinkTypeMACFrame golayers.LinkType = 147

type MACFrame struct {
	golayers.BaseLayer
	MACHeader
	Checksum uint32
}

func (m *MACFrame) LayerType() gopacket.LayerType { return LayerTypeMACFrame }

func (m *MACFrame) CanDecode() gopacket.LayerClass { return LayerTypeMACFrame }

func (m *MACFrame) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

func (m *MACFrame) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	f, err := DecodeFrame(data)
	if err != nil {
		df.SetTruncated()
		return err
	}
	m.MACHeader = f.Header()
	m.Checksum = f.Checksum()
	m.BaseLayer = golayers.BaseLayer{Contents: f[:HeaderSize], Payload: f.Payload()}
	return nil
}

// Valid reports whether the decoded checksum matches header and payload.
func (m *MACFrame) Valid() bool {
	crc := crc32.ChecksumIEEE(m.Contents)
	return crc32.Update(crc, crc32.IEEETable, m.Payload) == m.Checksum
}

// SerializeTo wraps the bytes already in b (the payload) with header and checksum.
func (m *MACFrame) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	payloadLength := len(b.Bytes())
	header, err := b.PrependBytes(HeaderSize)
	if err != nil {
		return err
	}
	m.MACHeader.put(header)
	trailer, err := b.AppendBytes(ChecksumSize)
	if err != nil {
		return err
	}
	if opts.ComputeChecksums {
		m.Checksum = crc32.ChecksumIEEE(b.Bytes()[:HeaderSize+payloadLength])
	}
	binary.BigEndian.PutUint32(trailer, m.Checksum)
	return nil
}

func decodeMACFrame(data []byte, p gopacket.PacketBuilder) error {
	m := &MACFrame{}
	if err := m.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(m)
	if len(m.Payload) == 0 {
		return nil
	}
	return p.NextDecoder(gopacket.LayerTypePayload)
}

// Packet decodes the frame with gopacket without copying it.
func (f Frame) Packet() gopacket.Packet {
	return gopacket.NewPacket(f, LayerTypeMACFrame, gopacket.NoCopy)
}
