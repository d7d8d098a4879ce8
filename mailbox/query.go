// SPDX-License-Identifier: GPL-3.0-or-later
package mailbox

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/charset"
)

var ErrMalformedQuery = errors.New("malformed search query")

// ParseQuery turns a textual IMAP search, e.g. `OR FROM alice SUBJECT "lunch
// plans"`, into search criteria. An empty query matches everything.
func ParseQuery(query string) (*imap.SearchCriteria, error) {
	if strings.TrimSpace(query) == "" {
		query = "ALL"
	}

	fields, err := tokenize(query)
	if err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	err = criteria.ParseWithCharset(fields, utf8Reader)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrMalformedQuery, query, err)
	}

	return criteria, nil
}

// Queries are typed by the caller and always arrive as UTF-8.
func utf8Reader(r io.Reader) io.Reader {
	decoded, err := charset.Reader("utf-8", r)
	if err != nil {
		return r
	}
	return decoded
}

// tokenize splits query into atoms, quoted strings and parenthesized lists
// the way the IMAP parser hands them to SearchCriteria.
func tokenize(query string) ([]interface{}, error) {
	stack := [][]interface{}{{}}
	push := func(f interface{}) {
		stack[len(stack)-1] = append(stack[len(stack)-1], f)
	}

	runes := []rune(query)
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; {
		case unicode.IsSpace(r):
		case r == '(':
			stack = append(stack, []interface{}{})
		case r == ')':
			if len(stack) == 1 {
				return nil, fmt.Errorf("%w %q: unbalanced ')'", ErrMalformedQuery, query)
			}
			list := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			push(list)
		case r == '"':
			var sb strings.Builder
			closed := false
			for i++; i < len(runes); i++ {
				if runes[i] == '\\' && i+1 < len(runes) {
					i++
					sb.WriteRune(runes[i])
					continue
				}
				if runes[i] == '"' {
					closed = true
					break
				}
				sb.WriteRune(runes[i])
			}
			if !closed {
				return nil, fmt.Errorf("%w %q: unterminated string", ErrMalformedQuery, query)
			}
			push(sb.String())
		default:
			start := i
			for i < len(runes) && !unicode.IsSpace(runes[i]) && !strings.ContainsRune(`()"`, runes[i]) {
				i++
			}
			push(string(runes[start:i]))
			i--
		}
	}

	if len(stack) != 1 {
		return nil, fmt.Errorf("%w %q: unbalanced '('", ErrMalformedQuery, query)
	}
	return stack[0], nil
}
