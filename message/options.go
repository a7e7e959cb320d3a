package message

import (
	"fmt"
	"sort"
	"strings"
)

// Options is a list of options sorted by ID. Options with the same ID keep
// the order in which they were added.
type Options []Option

const maxPathValue = 255

// findPosition returns the index of the first option with ID >= id when
// prepend is set, otherwise the index of the first option with ID > id.
func (options Options) findPosition(id OptionID, prepend bool) int {
	if prepend {
		return sort.Search(len(options), func(i int) bool { return options[i].ID >= id })
	}
	return sort.Search(len(options), func(i int) bool { return options[i].ID > id })
}

// Find returns the range [first, last) of options with the id.
func (options Options) Find(id OptionID) (int, int, error) {
	first := options.findPosition(id, true)
	last := options.findPosition(id, false)
	if first == last {
		return -1, -1, ErrOptionNotFound
	}
	return first, last, nil
}

// Set replaces all options with the id by opt.
func (options Options) Set(opt Option) Options {
	first := options.findPosition(opt.ID, true)
	last := options.findPosition(opt.ID, false)
	if first == last {
		return options.insert(first, opt)
	}
	options[first] = opt
	return append(options[:first+1], options[last:]...)
}

// Add appends opt after the options with the same id.
func (options Options) Add(opt Option) Options {
	return options.insert(options.findPosition(opt.ID, false), opt)
}

func (options Options) insert(idx int, opt Option) Options {
	options = append(options, Option{})
	copy(options[idx+1:], options[idx:])
	options[idx] = opt
	return options
}

// Remove removes all options with the id.
func (options Options) Remove(id OptionID) Options {
	first := options.findPosition(id, true)
	last := options.findPosition(id, false)
	if first == last {
		return options
	}
	return append(options[:first], options[last:]...)
}

func (options Options) HasOption(id OptionID) bool {
	_, _, err := options.Find(id)
	return err == nil
}

// Clone returns a deep copy of the options.
func (options Options) Clone() Options {
	if options == nil {
		return nil
	}
	c := make(Options, len(options))
	for i, o := range options {
		var v []byte
		if o.Value != nil {
			v = make([]byte, len(o.Value))
			copy(v, o.Value)
		}
		c[i] = Option{ID: o.ID, Value: v}
	}
	return c
}

func (options Options) GetBytes(id OptionID) ([]byte, error) {
	first, _, err := options.Find(id)
	if err != nil {
		return nil, err
	}
	return options[first].Value, nil
}

func (options Options) GetString(id OptionID) (string, error) {
	v, err := options.GetBytes(id)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (options Options) GetUint32(id OptionID) (uint32, error) {
	v, err := options.GetBytes(id)
	if err != nil {
		return 0, err
	}
	return DecodeUint32(v)
}

// ReadStrings returns the values of all options with the id.
func (options Options) ReadStrings(id OptionID) ([]string, error) {
	first, last, err := options.Find(id)
	if err != nil {
		return nil, err
	}
	r := make([]string, 0, last-first)
	for i := first; i < last; i++ {
		r = append(r, string(options[i].Value))
	}
	return r, nil
}

func (options Options) SetBytes(id OptionID, value []byte) Options {
	return options.Set(Option{ID: id, Value: value})
}

func (options Options) SetUint32(id OptionID, value uint32) Options {
	return options.Set(Option{ID: id, Value: EncodeUint32(value)})
}

func (options Options) AddUint32(id OptionID, value uint32) Options {
	return options.Add(Option{ID: id, Value: EncodeUint32(value)})
}

func (options Options) SetString(id OptionID, value string) Options {
	return options.Set(Option{ID: id, Value: []byte(value)})
}

func (options Options) AddString(id OptionID, value string) Options {
	return options.Add(Option{ID: id, Value: []byte(value)})
}

// SetPath replaces the Uri-Path options by the segments of path.
func (options Options) SetPath(path string) (Options, error) {
	o := options.Remove(URIPath)
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return o, nil
	}
	for _, segment := range strings.Split(path, "/") {
		if len(segment) > maxPathValue {
			return options, fmt.Errorf("path segment %q: %w", segment, ErrInvalidValueLength)
		}
		o = o.AddString(URIPath, segment)
	}
	return o, nil
}

// Path joins the Uri-Path options.
func (options Options) Path() (string, error) {
	segments, err := options.ReadStrings(URIPath)
	if err != nil {
		return "", err
	}
	return "/" + strings.Join(segments, "/"), nil
}

// AddQuery adds a Uri-Query option.
func (options Options) AddQuery(query string) Options {
	return options.AddString(URIQuery, query)
}

func (options Options) Queries() ([]string, error) {
	return options.ReadStrings(URIQuery)
}

func (options Options) ContentFormat() (uint32, error) {
	return options.GetUint32(ContentFormat)
}

func (options Options) SetContentFormat(contentFormat uint32) Options {
	return options.SetUint32(ContentFormat, contentFormat)
}

func (options Options) Observe() (uint32, error) {
	return options.GetUint32(Observe)
}

func (options Options) SetObserve(seq uint32) Options {
	return options.SetUint32(Observe, seq&0xffffff)
}

// Block returns the decoded Block1 or Block2 option.
func (options Options) Block(id OptionID) (BlockOption, error) {
	v, err := options.GetBytes(id)
	if err != nil {
		return BlockOption{}, err
	}
	// a zero length uint is the value 0
	if len(v) == 0 {
		return BlockOption{}, nil
	}
	return ParseBlockOption(v)
}

func (options Options) SetBlock(id OptionID, b BlockOption) Options {
	return options.SetBytes(id, b.Bytes())
}

// Marshal delta-encodes the options into buf. The options are written in
// ascending order; repeated options keep their relative order. When buf is
// too small the needed size is returned with ErrTooSmall.
func (options Options) Marshal(buf []byte) (int, error) {
	if !sort.SliceIsSorted(options, func(i, j int) bool { return options[i].ID < options[j].ID }) {
		sorted := append(Options(nil), options...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
		options = sorted
	}
	previousID := OptionID(0)
	length := 0
	tooSmall := false
	for _, o := range options {
		var dst []byte
		if !tooSmall {
			dst = buf[length:]
		}
		n, err := o.marshal(dst, previousID)
		if err != nil {
			tooSmall = true
		}
		previousID = o.ID
		length += n
	}
	if tooSmall {
		return length, ErrTooSmall
	}
	return length, nil
}

// Unmarshal parses options until the payload marker or the end of data and
// returns the number of processed bytes including the marker. Unknown
// elective options are kept. Unknown critical options fail with
// ErrUnknownCriticalOption when strict is set and are skipped otherwise. A
// known option with a length out of its bounds is treated as unknown.
func (options *Options) Unmarshal(data []byte, optionDefs map[OptionID]OptionDef, strict bool) (int, error) {
	prev := 0
	processed := 0
	for len(data) > 0 {
		if data[0] == 0xff {
			if len(data) == 1 {
				return -1, ErrPayloadMarkerWithoutPayload
			}
			processed++
			break
		}

		delta := int(data[0] >> 4)
		length := int(data[0] & 0x0f)

		if delta == ExtendOptionError || length == ExtendOptionError {
			return -1, ErrOptionUnexpectedExtendMarker
		}

		data = data[1:]
		processed++

		proc, delta, err := parseExtOpt(data, delta)
		if err != nil {
			return -1, err
		}
		processed += proc
		data = data[proc:]
		proc, length, err = parseExtOpt(data, length)
		if err != nil {
			return -1, err
		}
		processed += proc
		data = data[proc:]

		if len(data) < length {
			return -1, ErrOptionTruncated
		}

		if prev+delta > maxOptionID {
			return -1, ErrOptionIDOverflow
		}
		oid := OptionID(prev + delta)
		value := data[:length]
		data = data[length:]
		processed += length
		prev = int(oid)

		def, known := optionDefs[oid]
		if known && (length < def.MinLen || length > def.MaxLen) {
			known = false
		}
		if !known && oid.Critical() {
			if strict {
				return -1, fmt.Errorf("%w: %v", ErrUnknownCriticalOption, oid)
			}
			continue
		}
		if !known {
			if _, defined := optionDefs[oid]; defined {
				// invalid length of a known elective option
				continue
			}
		}
		*options = append(*options, Option{ID: oid, Value: value})
	}
	return processed, nil
}
