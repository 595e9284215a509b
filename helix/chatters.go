package helix

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var ErrUnexpectedToken = errors.New("unexpected token")

var (
	OpenBracket  = json.Delim('[')
	CloseBracket = json.Delim(']')
	OpenBrace    = json.Delim('{')
	CloseBrace   = json.Delim('}')
)

// MaxPageSize is the largest page the chatters endpoint serves.
const MaxPageSize = 1000

// ChatterDecoder reads a Get Chatters response body as a stream of tokens,
// keeping only the login of each chatter.
//
// If `total` is read before `data` the logins slice is allocated once with
// the smallest size possible, min(total, PageSize), since only one page is ever
// read. Note that for this optimization we need 'total' to come before 'data'
// and since we are reading from a stream we can't control the order; otherwise
// the slice just grows with append.
type ChatterDecoder struct {
	logins []string

	// Total is the `total` property of the response, the number of chatters
	// across all pages.
	Total uint64
	// PageSize caps the preallocation. Defaults to MaxPageSize.
	PageSize uint64
}

func (d *ChatterDecoder) Logins() []string {
	if d.logins == nil {
		return []string{}
	}
	return d.logins
}

func (d *ChatterDecoder) Decode(r io.Reader) error {
	dec := json.NewDecoder(r)
	tk, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tk.(json.Delim); !ok || delim != OpenBrace {
		return fmt.Errorf("%w: expected JSON object at first token, got %v", ErrUnexpectedToken, tk)
	}

	for dec.More() {
		tk, err = dec.Token()
		if err != nil {
			return err
		}

		switch tk {
		case "total":
			if err := dec.Decode(&d.Total); err != nil {
				return err
			}
		case "data":
			if err := d.data(dec); err != nil {
				return err
			}
		default:
			// pagination included, cursors are never followed
			if err := skip(dec); err != nil {
				return err
			}
		}
	}

	tk, err = dec.Token()
	if err != nil {
		return err
	}
	if tk != CloseBrace {
		return fmt.Errorf("%w: closing: expected %s at offset %d, got %v", ErrUnexpectedToken, CloseBrace, dec.InputOffset(), tk)
	}
	return nil
}

func (d *ChatterDecoder) data(dec *json.Decoder) error {
	tk, err := dec.Token()
	if err != nil {
		return err
	}
	if tk == nil {
		// "data": null
		return nil
	}
	if tk != OpenBracket {
		return fmt.Errorf("%w: data: expected %s, got %v", ErrUnexpectedToken, OpenBracket, tk)
	}

	if d.logins == nil {
		d.logins = make([]string, 0, d.size())
	}
	for dec.More() {
		var c Chatter
		if err := dec.Decode(&c); err != nil {
			return err
		}
		if c.UserLogin == "" {
			continue
		}
		d.logins = append(d.logins, c.UserLogin)
	}

	tk, err = dec.Token()
	if err != nil {
		return err
	}
	if tk != CloseBracket {
		return fmt.Errorf("%w: data: expected %s, got %v", ErrUnexpectedToken, CloseBracket, tk)
	}
	return nil
}

// size estimates the allocation size for the logins slice. 0 if unknown.
func (d *ChatterDecoder) size() uint64 {
	return min(d.Total, d.PageSize)
}

// min takes two numbers and returns the minimum number.
func min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// skip consumes the next value of `dec`, whatever its depth.
func skip(dec *json.Decoder) error {
	n := 0
	for {
		tk, err := dec.Token()
		if err != nil {
			return err
		}

		switch tk {
		case OpenBracket, OpenBrace:
			n++
		case CloseBracket, CloseBrace:
			n--
		}

		if n == 0 {
			return nil
		}
	}
}

func NewChatterDecoder() *ChatterDecoder {
	return &ChatterDecoder{
		PageSize: MaxPageSize,
	}
}
