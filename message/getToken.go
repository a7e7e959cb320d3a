package message

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"hash/crc64"
)

// MaxTokenSize maximum of token size that can be used in message
const MaxTokenSize = 8

type Token []byte

func (t Token) String() string {
	return hex.EncodeToString(t)
}

func (t Token) Equal(v Token) bool {
	return bytes.Equal(t, v)
}

// GetToken generates a random token of MaxTokenSize bytes.
func GetToken() (Token, error) {
	b := make(Token, MaxTokenSize)
	_, err := rand.Read(b)
	// Note that err == nil only if we read len(b) bytes.
	if err != nil {
		return nil, err
	}
	return b, nil
}

var etagTable = crc64.MakeTable(crc64.ISO)

// CalcETag calculates an ETag from payload via CRC64.
func CalcETag(payload []byte) []byte {
	if payload == nil {
		return nil
	}
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, crc64.Checksum(payload, etagTable))
	return b
}
