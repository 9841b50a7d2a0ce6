package allowance

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// The annotation encoding is line-oriented: one "allowance" record per
// allowance, followed by one "hop" record per trace hop (root first) and
// one "att" record per attestation on the preceding hop. Every field is
// quoted, so tabs and newlines in values survive the round-trip. Attestation
// keys are emitted sorted, making the encoding deterministic for equal sets.
//
//	allowance "<target>" "<verb>" "<field>" "<generation>" "<initiator>"
//	hop "<kind>" "<name>" "<generation>" "<field>"
//	att "<path>" "<value>"

// Encode renders the set into its annotation form. Encoding preserves set
// order, hop order, and attestation values losslessly.
func Encode(s Set) string {
	var b strings.Builder

	for _, a := range s {
		writeRecord(&b, "allowance", a.Target, a.Verb, a.Field,
			strconv.FormatInt(a.Generation, 10), a.Initiator)

		for _, h := range a.Trace {
			writeRecord(&b, "hop", h.Kind, h.Name,
				strconv.FormatInt(h.Generation, 10), h.Field)

			keys := make([]string, 0, len(h.Attestations))
			for k := range h.Attestations {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			for _, k := range keys {
				writeRecord(&b, "att", k, h.Attestations[k])
			}
		}
	}

	return b.String()
}

// Decode parses an annotation value back into a set. A malformed record
// invalidates only the allowance block it belongs to: that allowance is
// dropped, a warning is returned for it, and decoding resumes at the next
// "allowance" line. Decoded allowances are never silently partial.
func Decode(encoded string) (Set, []error) {
	var (
		set      Set
		warnings []error
		current  *Allowance
		bad      bool
	)

	flush := func() {
		if current != nil && !bad {
			set = append(set, *current)
		}
		current = nil
		bad = false
	}

	lines := strings.Split(encoded, "\n")
	for n, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		kind, fields, err := parseRecord(line)
		if err != nil {
			if current != nil && !bad {
				warnings = append(warnings, fmt.Errorf("allowance: line %d: %w", n+1, err))
				bad = true
			} else if current == nil {
				warnings = append(warnings, fmt.Errorf("allowance: line %d: %w", n+1, err))
			}

			continue
		}

		switch kind {
		case "allowance":
			flush()

			a, err := parseAllowance(fields)
			if err != nil {
				warnings = append(warnings, fmt.Errorf("allowance: line %d: %w", n+1, err))
				bad = true
				current = &Allowance{}

				continue
			}

			current = &a
		case "hop":
			if current == nil {
				warnings = append(warnings, fmt.Errorf("allowance: line %d: hop outside an allowance block", n+1))

				continue
			}

			if bad {
				continue
			}

			h, err := parseHop(fields)
			if err != nil {
				warnings = append(warnings, fmt.Errorf("allowance: line %d: %w", n+1, err))
				bad = true

				continue
			}

			current.Trace = append(current.Trace, h)
		case "att":
			if current == nil || len(current.Trace) == 0 {
				warnings = append(warnings, fmt.Errorf("allowance: line %d: attestation outside a hop", n+1))

				continue
			}

			if bad {
				continue
			}

			if len(fields) != 2 {
				warnings = append(warnings, fmt.Errorf("allowance: line %d: attestation needs path and value", n+1))
				bad = true

				continue
			}

			hop := &current.Trace[len(current.Trace)-1]
			if hop.Attestations == nil {
				hop.Attestations = map[string]string{}
			}
			hop.Attestations[fields[0]] = fields[1]
		default:
			if current != nil && !bad {
				warnings = append(warnings, fmt.Errorf("allowance: line %d: unknown record %q", n+1, kind))
				bad = true
			} else if current == nil {
				warnings = append(warnings, fmt.Errorf("allowance: line %d: unknown record %q", n+1, kind))
			}
		}
	}

	flush()

	return set, warnings
}

func parseAllowance(fields []string) (Allowance, error) {
	if len(fields) != 5 {
		return Allowance{}, fmt.Errorf("allowance record needs 5 fields, got %d", len(fields))
	}

	gen, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Allowance{}, fmt.Errorf("invalid generation %q", fields[3])
	}

	if fields[0] == "" {
		return Allowance{}, fmt.Errorf("empty target")
	}

	return Allowance{
		Target:     fields[0],
		Verb:       fields[1],
		Field:      fields[2],
		Generation: gen,
		Initiator:  fields[4],
	}, nil
}

func parseHop(fields []string) (Hop, error) {
	if len(fields) != 4 {
		return Hop{}, fmt.Errorf("hop record needs 4 fields, got %d", len(fields))
	}

	gen, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Hop{}, fmt.Errorf("invalid hop generation %q", fields[2])
	}

	return Hop{
		Kind:       fields[0],
		Name:       fields[1],
		Generation: gen,
		Field:      fields[3],
	}, nil
}

func writeRecord(b *strings.Builder, kind string, fields ...string) {
	b.WriteString(kind)

	for _, f := range fields {
		b.WriteByte('\t')
		b.WriteString(strconv.Quote(f))
	}

	b.WriteByte('\n')
}

func parseRecord(line string) (string, []string, error) {
	parts := strings.Split(line, "\t")
	kind := parts[0]

	fields := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		f, err := strconv.Unquote(p)
		if err != nil {
			return kind, nil, fmt.Errorf("malformed field %q", p)
		}

		fields = append(fields, f)
	}

	return kind, fields, nil
}
