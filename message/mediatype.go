package message

import "strconv"

// MediaType specifies the content format of a message.
type MediaType uint16

// Content formats.
const (
	TextPlain     MediaType = 0  // text/plain;charset=utf-8
	AppLinkFormat MediaType = 40 // application/link-format
	AppXML        MediaType = 41 // application/xml
	AppOctets     MediaType = 42 // application/octet-stream
	AppJSON       MediaType = 50 // application/json
	AppCBOR       MediaType = 60 // application/cbor
)

func (c MediaType) String() string {
	switch c {
	case TextPlain:
		return "text/plain;charset=utf-8"
	case AppLinkFormat:
		return "application/link-format"
	case AppXML:
		return "application/xml"
	case AppOctets:
		return "application/octet-stream"
	case AppJSON:
		return "application/json"
	case AppCBOR:
		return "application/cbor"
	}
	return "MediaType(" + strconv.FormatUint(uint64(c), 10) + ")"
}
