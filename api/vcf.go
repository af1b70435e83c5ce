package api

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// vCard 3.0 codec for the contacts export/import endpoints. Only the
// fields the agent round-trips are handled: FN, N, TEL, EMAIL, ORG.

// WriteVCF serializes contacts as a VCF 3.0 stream.
func WriteVCF(w io.Writer, contacts []Contact) error {
	for _, c := range contacts {
		if err := writeVCard(w, c); err != nil {
			return err
		}
	}
	return nil
}

func writeVCard(w io.Writer, c Contact) error {
	var b strings.Builder
	b.WriteString("BEGIN:VCARD\r\n")
	b.WriteString("VERSION:3.0\r\n")
	fmt.Fprintf(&b, "FN:%s\r\n", escapeVCF(c.Name))
	fmt.Fprintf(&b, "N:%s;;;;\r\n", escapeVCF(c.Name))
	for _, p := range c.Phones {
		if p.Label != "" {
			fmt.Fprintf(&b, "TEL;TYPE=%s:%s\r\n", strings.ToUpper(p.Label), escapeVCF(p.Value))
		} else {
			fmt.Fprintf(&b, "TEL:%s\r\n", escapeVCF(p.Value))
		}
	}
	for _, e := range c.Emails {
		if e.Label != "" {
			fmt.Fprintf(&b, "EMAIL;TYPE=%s:%s\r\n", strings.ToUpper(e.Label), escapeVCF(e.Value))
		} else {
			fmt.Fprintf(&b, "EMAIL:%s\r\n", escapeVCF(e.Value))
		}
	}
	if c.Organization != "" {
		fmt.Fprintf(&b, "ORG:%s\r\n", escapeVCF(c.Organization))
	}
	b.WriteString("END:VCARD\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func escapeVCF(s string) string {
	r := strings.NewReplacer("\\", "\\\\", ";", "\\;", ",", "\\,", "\n", "\\n")
	return r.Replace(s)
}

func unescapeVCF(s string) string {
	r := strings.NewReplacer("\\\\", "\\", "\\;", ";", "\\,", ",", "\\n", "\n", "\\N", "\n")
	return r.Replace(s)
}

// ParseVCF reads a VCF stream and returns one Contact per well-formed
// vCard block. Blocks missing both FN and N are dropped with an error in
// the returned failure list; parsing never aborts the whole stream.
func ParseVCF(r io.Reader) ([]Contact, []string) {
	var (
		contacts []Contact
		failures []string
		current  *Contact
		blockNum int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		switch {
		case strings.EqualFold(line, "BEGIN:VCARD"):
			blockNum++
			current = &Contact{}
		case strings.EqualFold(line, "END:VCARD"):
			if current == nil {
				continue
			}
			if current.Name == "" {
				failures = append(failures,
					fmt.Sprintf("vcard %d: missing FN/N", blockNum))
			} else {
				contacts = append(contacts, *current)
			}
			current = nil
		default:
			if current != nil {
				parseVCFLine(current, line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		failures = append(failures, "stream: "+err.Error())
	}
	if current != nil {
		failures = append(failures, fmt.Sprintf("vcard %d: unterminated", blockNum))
	}
	return contacts, failures
}

func parseVCFLine(c *Contact, line string) {
	name, value, ok := strings.Cut(line, ":")
	if !ok {
		return
	}
	prop, params, _ := strings.Cut(name, ";")
	label := vcfTypeParam(params)
	value = unescapeVCF(value)

	switch strings.ToUpper(prop) {
	case "FN":
		c.Name = value
	case "N":
		if c.Name == "" {
			// N is family;given;additional;prefix;suffix
			parts := strings.Split(value, ";")
			var names []string
			// given name first, matching display convention
			if len(parts) > 1 && parts[1] != "" {
				names = append(names, parts[1])
			}
			if parts[0] != "" {
				names = append(names, parts[0])
			}
			c.Name = strings.Join(names, " ")
		}
	case "TEL":
		c.Phones = append(c.Phones, LabeledValue{Label: label, Value: value})
	case "EMAIL":
		c.Emails = append(c.Emails, LabeledValue{Label: label, Value: value})
	case "ORG":
		c.Organization = strings.TrimSuffix(value, ";")
	}
}

// vcfTypeParam extracts TYPE=x from a parameter list like
// "TYPE=CELL" or "TYPE=HOME;TYPE=VOICE".
func vcfTypeParam(params string) string {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(p, "=")
		if ok && strings.EqualFold(k, "TYPE") {
			// a compound like HOME,VOICE keeps its first component
			first, _, _ := strings.Cut(v, ",")
			return strings.ToLower(first)
		}
	}
	return ""
}
