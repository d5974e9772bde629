package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Country is one record of the upstream feed. Optional fields are pointers so
// that "absent" and "zero" stay distinguishable.
type Country struct {
	CCA2        string     `json:"cca2"`
	Name        Name       `json:"name"`
	Region      string     `json:"region"`
	Subregion   *string    `json:"subregion"`
	Population  int64      `json:"population"`
	Independent *bool      `json:"independent"`
	Currencies  Currencies `json:"currencies"`
}

// Name holds the common and official country names
type Name struct {
	Common   string `json:"common"`
	Official string `json:"official"`
}

// Currency is one entry of the currencies object, keyed by ISO 4217 code
type Currency struct {
	Code   string
	Name   *string `json:"name"`
	Symbol *string `json:"symbol"`
}

// Currencies keeps the entries of the currencies object in document order
type Currencies []Currency

// First returns the first currency in feed order
func (c Currencies) First() (Currency, bool) {
	if len(c) == 0 {
		return Currency{}, false
	}
	return c[0], true
}

// UnmarshalJSON decodes a JSON object into an ordered list; null leaves it empty
func (c *Currencies) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("currencies: expected object, got %v", tok)
	}

	var out Currencies
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		code, ok := tok.(string)
		if !ok {
			return fmt.Errorf("currencies: unexpected key %v", tok)
		}
		cur := Currency{Code: code}
		if err := dec.Decode(&cur); err != nil {
			return fmt.Errorf("currencies[%s]: %w", code, err)
		}
		out = append(out, cur)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*c = out
	return nil
}

func (c Country) validate() error {
	if c.CCA2 == "" {
		return fmt.Errorf("missing cca2")
	}
	if c.Population < 0 {
		return fmt.Errorf("%s: negative population %d", c.CCA2, c.Population)
	}
	return nil
}
