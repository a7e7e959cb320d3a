package exchange

import (
	"io"

	"github.com/dsnet/golib/memfile"
	"github.com/plgd-dev/go-coap-engine/message"
)

// BlockStatus is the state of a block-wise transfer of one body.
type BlockStatus struct {
	// SZX is the active block size.
	SZX message.SZX
	// Num is the next block to receive or the last block sent.
	Num uint32
	// Complete is set once the last block was transferred.
	Complete bool
	// First is the first received block, or the whole message being
	// fragmented.
	First *Message
	// ETag of the representation, used to detect a change mid-transfer.
	ETag []byte

	buf *memfile.File
}

// NewReassembly starts collecting the body beginning with first.
func NewReassembly(first *Message, szx message.SZX) *BlockStatus {
	etag, _ := first.Options.GetBytes(message.ETag)
	return &BlockStatus{
		SZX:   szx,
		First: first,
		ETag:  etag,
		buf:   memfile.New(make([]byte, 0, szx.Size())),
	}
}

// NewFragmentation starts slicing the payload of full.
func NewFragmentation(full *Message, szx message.SZX) *BlockStatus {
	etag, _ := full.Options.GetBytes(message.ETag)
	return &BlockStatus{
		SZX:   szx,
		First: full,
		ETag:  etag,
	}
}

// Append adds a received block to the reassembled body.
func (s *BlockStatus) Append(payload []byte) error {
	if _, err := s.buf.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	_, err := s.buf.Write(payload)
	return err
}

// Len returns the number of reassembled bytes.
func (s *BlockStatus) Len() int {
	if s.buf == nil {
		return 0
	}
	return len(s.buf.Bytes())
}

// Bytes returns the reassembled body.
func (s *BlockStatus) Bytes() []byte {
	if s.buf == nil {
		return nil
	}
	return s.buf.Bytes()
}

// Payload returns the body being fragmented.
func (s *BlockStatus) Payload() []byte {
	return s.First.Payload
}

// NextNum returns the block number following the received bytes at the
// active block size.
func (s *BlockStatus) NextNum() uint32 {
	return uint32(s.Len() / s.SZX.Size())
}
