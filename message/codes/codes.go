package codes

import (
	"errors"
	"fmt"
	"strconv"
)

// A Code is an unsigned 8-bit coap code: 3 bits of class and 5 bits of detail.
type Code uint8

// Request Codes
const (
	GET    Code = 1
	POST   Code = 2
	PUT    Code = 3
	DELETE Code = 4
	FETCH  Code = 5
	PATCH  Code = 6
	IPATCH Code = 7
)

// Response Codes
const (
	Empty                   Code = 0
	Created                 Code = 65
	Deleted                 Code = 66
	Valid                   Code = 67
	Changed                 Code = 68
	Content                 Code = 69
	Continue                Code = 95
	BadRequest              Code = 128
	Unauthorized            Code = 129
	BadOption               Code = 130
	Forbidden               Code = 131
	NotFound                Code = 132
	MethodNotAllowed        Code = 133
	NotAcceptable           Code = 134
	RequestEntityIncomplete Code = 136
	PreconditionFailed      Code = 140
	RequestEntityTooLarge   Code = 141
	UnsupportedMediaType    Code = 143
	InternalServerError     Code = 160
	NotImplemented          Code = 161
	BadGateway              Code = 162
	ServiceUnavailable      Code = 163
	GatewayTimeout          Code = 164
	ProxyingNotSupported    Code = 165
)

const _maxCode = 255

var ErrUnknownCode = errors.New("unknown code")

var strToCode = map[string]Code{}

func init() {
	for i := 0; i <= _maxCode; i++ {
		c := Code(i)
		if _, ok := codeToString[c]; ok {
			strToCode[c.String()] = c
		}
	}
}

// Class returns the class part of the code (c.dd).
func (c Code) Class() uint8 {
	return uint8(c) >> 5
}

// Detail returns the detail part of the code (c.dd).
func (c Code) Detail() uint8 {
	return uint8(c) & 0x1f
}

// IsRequest reports whether the code is a request method.
func (c Code) IsRequest() bool {
	return c != Empty && c.Class() == 0
}

// IsResponse reports whether the code is a response status.
func (c Code) IsResponse() bool {
	return c.Class() >= 2 && c.Class() <= 5
}

// IsSuccess reports whether the code is a 2.xx response.
func (c Code) IsSuccess() bool {
	return c.Class() == 2
}

// Dotted returns the code in the c.dd notation, e.g. 2.05.
func (c Code) Dotted() string {
	return fmt.Sprintf("%d.%02d", c.Class(), c.Detail())
}

// ToCode converts the name of a code, e.g. "GET" or "2.05", to the Code.
func ToCode(v string) (Code, error) {
	if c, ok := strToCode[v]; ok {
		return c, nil
	}
	var class, detail uint8
	if n, err := fmt.Sscanf(v, "%d.%02d", &class, &detail); err == nil && n == 2 && class <= 7 && detail <= 31 {
		return Code(class<<5 | detail), nil
	}
	if n, err := strconv.ParseUint(v, 10, 8); err == nil {
		return Code(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCode, v)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Code) UnmarshalText(text []byte) error {
	if c == nil {
		return errors.New("nil receiver passed to UnmarshalText")
	}
	v, err := ToCode(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (c Code) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
